// Package storagetest provides a backend-agnostic contract suite for
// storage.Store implementations.
//
// Example: run the contract against a custom store
//
//	func TestMyStoreContract(t *testing.T) {
//		storagetest.RunStoreContract(t, newMyStore(), storagetest.Options{})
//	}
//
// The suite writes keys namespaced by the test name, so it can share a
// backend with other tests as long as Options.SkipFlush is set.
// Stores that implement storage.Lister also get their key listing checked.
package storagetest

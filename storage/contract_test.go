package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/goforj/geostate/storage"
	"github.com/goforj/geostate/storage/storagetest"
)

func TestStoreContractMemory(t *testing.T) {
	storagetest.RunStoreContract(t, storage.NewMemoryStore(), storagetest.Options{})
}

func TestStoreContractFile(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	storagetest.RunStoreContract(t, store, storagetest.Options{})
}

func TestStoreContractNull(t *testing.T) {
	store, err := storage.NewWith(context.Background(), storage.DriverNull)
	if err != nil {
		t.Fatalf("new null store: %v", err)
	}
	storagetest.RunStoreContract(t, store, storagetest.Options{Discarding: true})
}

func TestStoreContractMemo(t *testing.T) {
	storagetest.RunStoreContract(t, storage.NewMemoStore(storage.NewMemoryStore()), storagetest.Options{
		// memoized reads outlive the backend ttl until forgotten
		SkipTTL: true,
	})
}

func TestStoreContractRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := storage.NewWith(context.Background(), storage.DriverRedis,
		storage.WithRedisClient(client),
		storage.WithPrefix("contract"),
	)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	// miniredis only advances ttl through FastForward.
	storagetest.RunStoreContract(t, store, storagetest.Options{SkipTTL: true})
}

func TestStoreContractSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "geostate.db")
	store, err := storage.NewWith(context.Background(), storage.DriverSQL,
		storage.WithSQL("sqlite", dsn, "geostate_entries"),
	)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if c, ok := store.(interface{ Close() error }); ok {
		t.Cleanup(func() { _ = c.Close() })
	}
	storagetest.RunStoreContract(t, store, storagetest.Options{})
}

func TestStoreContractShared(t *testing.T) {
	bus := storage.NewBus()
	storagetest.RunStoreContract(t, bus.Attach(storage.NewMemoryStore()), storagetest.Options{})
}

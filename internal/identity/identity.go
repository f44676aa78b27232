// Package identity produces the stable per-device actor id that tags every
// operation a replica emits. The id is generated once, persisted in a small
// bolt database, and reused across restarts.
package identity

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketName = []byte("identity")
	actorKey   = []byte("actor_id")
)

// Load opens (or creates) the identity database at path and returns the
// actor id stored there, generating and persisting a fresh one on first
// use. It must run before the store or presence code is touched.
func Load(path string) (string, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return "", fmt.Errorf("open identity db: %w", err)
	}
	defer db.Close()

	var actor string
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		if v := b.Get(actorKey); v != nil {
			actor = string(v)
			return nil
		}
		actor = uuid.NewString()
		log.Printf("[identity] generated new actor id %s", actor)
		return b.Put(actorKey, []byte(actor))
	})
	if err != nil {
		return "", fmt.Errorf("load actor id: %w", err)
	}
	return actor, nil
}

package ingest

import "context"

// Locker serializes concurrent ingestions of the same document. TryLock
// returns acquired=false when another ingestion currently holds the key;
// release must be called once the ingestion finishes either way.
//
// Locking is an optimization, not a correctness requirement: the statement
// primary key still rejects concurrent duplicates that slip past it.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// noopLocker always grants the lock. Used when no Redis is configured.
type noopLocker struct{}

func (noopLocker) TryLock(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

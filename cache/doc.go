// Package cache provides the keyed remember-cache of the offline sync engine.
//
// # Overview
//
// Remember looks a key up in a fast in-memory Store. On a miss it asks the
// connectivity Oracle whether the remote side is reachable:
//
//   - online: the fetch function runs, the value is written to the Store with
//     the category TTL and then persisted as JSON into the BackupStore
//   - online but the fetch fails: the BackupStore answers instead
//   - offline: the fetch function is skipped and the BackupStore answers
//
// When the backup has nothing fresh either, Remember returns an error with
// text code NO_OFFLINE_DATA.
//
// # Basic Usage
//
//	store, _ := cache.NewStore(cache.DefaultConfig())
//	svc := cache.NewService(store,
//		cache.WithBackup(backupStore),
//		cache.WithAccessRecorder(backupStore),
//		cache.WithOracle(oracle),
//	)
//
//	key := cache.Fingerprint("offline", "GET", "https://api.example.com/wishlists", nil)
//	lists, err := cache.Remember(ctx, svc, key, cache.CategoryWishlist,
//		func(ctx context.Context) (remote.Envelope, error) {
//			return client.Wishlists(ctx)
//		})
//
// # Categories
//
// A Category picks the TTL of an entry:
//
//   - tmdb_movie, tmdb_show: 7 days
//   - trending: 3 hours
//   - search: 1 hour
//   - user_data: 5 minutes
//   - wishlist: 10 minutes
//   - api_response and anything unknown: 30 minutes
//
// # Keys
//
// Fingerprint keeps the resolved URL readable inside the key and appends an
// xxhash of the URL plus the serialized parameters. Invalidation relies on the
// readable part to purge whole families of keys with `*` patterns such as
// "*wishlists*".
//
// Parameters are serialized by ParamSerializer, which sorts map keys and walks
// slices and structs so equal parameter sets produce equal keys. Functions and
// channels are encoded by identity and are only stable within one process.
package cache

package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/graph-gophers/dataloader/v7"
)

// DataLoaderContextKey is the key used to store dataloaders in context
type DataLoaderContextKey string

const dataLoaderKey DataLoaderContextKey = "dataloader"

// DataLoaders holds the per-request loaders.
type DataLoaders struct {
	ProfileLoader *dataloader.Loader[int, *profileRecord]
}

// NewDataLoaders creates new dataloaders with the database connection
func NewDataLoaders(db *sql.DB) *DataLoaders {
	return &DataLoaders{
		ProfileLoader: dataloader.NewBatchedLoader(profileBatchFn(db), dataloader.WithWait[int, *profileRecord](16*time.Millisecond)),
	}
}

// GetDataLoadersFromContext retrieves dataloaders from context
func GetDataLoadersFromContext(ctx context.Context) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return nil
}

// WithDataLoaders adds dataloaders to context
func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

// profileBatchFn loads every requested profile with one loadProfiles call.
// Unknown or inactive users resolve to errNotFound.
func profileBatchFn(db *sql.DB) dataloader.BatchFunc[int, *profileRecord] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[*profileRecord] {
		results := make([]*dataloader.Result[*profileRecord], len(keys))

		found, err := loadProfiles(ctx, db, keys)
		for i, key := range keys {
			switch {
			case err != nil:
				results[i] = &dataloader.Result[*profileRecord]{Error: err}
			case found[key] != nil:
				results[i] = &dataloader.Result[*profileRecord]{Data: found[key]}
			default:
				results[i] = &dataloader.Result[*profileRecord]{Error: errNotFound}
			}
		}
		return results
	}
}

// profilesFor resolves ids through the request's loader when there is one.
// Missing profiles are left out of the map.
func profilesFor(ctx context.Context, db *sql.DB, ids []int) (map[int]*profileRecord, error) {
	dl := GetDataLoadersFromContext(ctx)
	if dl == nil {
		return loadProfiles(ctx, db, ids)
	}

	out := make(map[int]*profileRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	values, errs := dl.ProfileLoader.LoadMany(ctx, ids)()
	for i, id := range ids {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		switch {
		case err == nil && i < len(values) && values[i] != nil:
			out[id] = values[i]
		case err == nil, errors.Is(err, errNotFound):
		default:
			return nil, err
		}
	}
	return out, nil
}

func loadProfileCached(ctx context.Context, db *sql.DB, id int) (*profileRecord, error) {
	if dl := GetDataLoadersFromContext(ctx); dl != nil {
		return dl.ProfileLoader.Load(ctx, id)()
	}
	return loadProfile(ctx, db, id)
}

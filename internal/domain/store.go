package domain

import "context"

// ConfigStore is the persisted key/value configuration table.
type ConfigStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

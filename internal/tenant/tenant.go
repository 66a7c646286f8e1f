// Package tenant carries restaurant/location identity explicitly through
// every message and function call. There is no ambient or thread-local
// tenant: handlers derive a Key once from message headers and thread it via
// context.Context from there on.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

// Header names for tenant propagation. Every outbound message is stamped
// with both; a consumer that cannot find both must reject the message as a
// configuration error rather than defaulting.
const (
	HeaderRestaurantID = "x-restaurant-id"
	HeaderLocationID   = "x-location-id"
)

// ErrMissingTenant marks a message that arrived without complete tenant
// headers. Callers dead-letter such messages instead of retrying.
var ErrMissingTenant = errors.New("tenant: missing restaurant or location header")

// Key identifies one restaurant location. Immutable once derived.
type Key struct {
	RestaurantID string
	LocationID   string
}

func (k Key) String() string {
	return k.RestaurantID + "/" + k.LocationID
}

// Valid reports whether both components are present.
func (k Key) Valid() bool {
	return k.RestaurantID != "" && k.LocationID != ""
}

// FromHeaders reconstructs the tenant key from message headers, failing fast
// when either header is absent or empty.
func FromHeaders(headers map[string]string) (Key, error) {
	k := Key{
		RestaurantID: headers[HeaderRestaurantID],
		LocationID:   headers[HeaderLocationID],
	}
	if !k.Valid() {
		return Key{}, fmt.Errorf("%w: restaurant=%q location=%q",
			ErrMissingTenant, k.RestaurantID, k.LocationID)
	}
	return k, nil
}

// Headers returns the header map to stamp on an outbound message.
func (k Key) Headers() map[string]string {
	return map[string]string{
		HeaderRestaurantID: k.RestaurantID,
		HeaderLocationID:   k.LocationID,
	}
}

// ctxKey is unexported so no other package can collide with or forge the
// tenant context value.
type ctxKey struct{}

// NewContext returns a child context carrying the tenant key.
func NewContext(ctx context.Context, k Key) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// FromContext extracts the tenant key placed by NewContext.
// The boolean is false when the context carries no tenant.
func FromContext(ctx context.Context) (Key, bool) {
	k, ok := ctx.Value(ctxKey{}).(Key)
	return k, ok && k.Valid()
}

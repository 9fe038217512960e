package settlement

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/jellydator/ttlcache/v3"

	"github.com/neverDefined/go-regtest-settle/internal/node"
)

// ownershipCache memoises AddressOwnedBy answers. Ownership does not change
// during a run; reset drops everything once the run ends.
type ownershipCache struct {
	gw    node.Gateway
	cache *ttlcache.Cache[string, bool]
}

func newOwnershipCache(gw node.Gateway) *ownershipCache {
	return &ownershipCache{
		gw: gw,
		cache: ttlcache.New[string, bool](
			ttlcache.WithDisableTouchOnHit[string, bool](),
		),
	}
}

func (c *ownershipCache) owned(wallet string, addr btcutil.Address) (bool, error) {
	key := wallet + "/" + addr.EncodeAddress()
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	owned, err := c.gw.AddressOwnedBy(wallet, addr)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, owned, ttlcache.NoTTL)

	return owned, nil
}

func (c *ownershipCache) reset() {
	c.cache.DeleteAll()
}

func (c *ownershipCache) size() int {
	return c.cache.Len()
}

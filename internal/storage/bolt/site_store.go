package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/sitewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type siteStore struct {
	db *bbolt.DB
}

func (s *siteStore) Get(ctx context.Context, id string) (*storage.Site, error) {
	return getBucketValue[storage.Site](ctx, s.db, bucketSites, id)
}

func (s *siteStore) GetByDomain(ctx context.Context, domain string) (*storage.Site, error) {
	var site *storage.Site
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		index := tx.Bucket([]byte(bucketSiteDomain))
		if index == nil {
			return storage.ErrNotFound
		}
		id := index.Get([]byte(domain))
		if id == nil {
			return storage.ErrNotFound
		}
		b := tx.Bucket([]byte(bucketSites))
		value := b.Get(id)
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.Site
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		site = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (s *siteStore) List(ctx context.Context) ([]storage.Site, error) {
	sites := make([]storage.Site, 0)
	return sites, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSites))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var site storage.Site
			if err := unmarshal(v, &site); err != nil {
				return err
			}
			sites = append(sites, site)
			return nil
		})
	})
}

func (s *siteStore) Upsert(ctx context.Context, site storage.Site) error {
	if site.ID == "" {
		return fmt.Errorf("site id is required")
	}
	data, err := marshal(site)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSites))
		index := tx.Bucket([]byte(bucketSiteDomain))

		// Reject a domain already owned by a different site.
		if existingID := index.Get([]byte(site.Domain)); existingID != nil && string(existingID) != site.ID {
			return storage.ErrDomainExists
		}

		// Drop the old domain index entry if the domain changed.
		if existing := b.Get([]byte(site.ID)); existing != nil {
			var old storage.Site
			if err := unmarshal(existing, &old); err != nil {
				return err
			}
			if old.Domain != site.Domain {
				if err := index.Delete([]byte(old.Domain)); err != nil {
					return err
				}
			}
		}

		if err := index.Put([]byte(site.Domain), []byte(site.ID)); err != nil {
			return err
		}
		return b.Put([]byte(site.ID), data)
	})
}

func (s *siteStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSites))
		value := b.Get([]byte(id))
		if value == nil {
			return storage.ErrNotFound
		}
		var site storage.Site
		if err := unmarshal(value, &site); err != nil {
			return err
		}
		index := tx.Bucket([]byte(bucketSiteDomain))
		if err := index.Delete([]byte(site.Domain)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type siteStore struct {
	client *redis.Client
}

// Get retrieves a site by ID
func (s *siteStore) Get(ctx context.Context, id string) (*storage.Site, error) {
	data, err := s.client.Get(ctx, siteKey(id)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var site storage.Site
	if err := json.Unmarshal([]byte(data), &site); err != nil {
		return nil, fmt.Errorf("unmarshal site: %w", err)
	}
	return &site, nil
}

// GetByDomain retrieves a site through the domain index
func (s *siteStore) GetByDomain(ctx context.Context, domain string) (*storage.Site, error) {
	id, err := s.client.Get(ctx, siteDomainKey(domain)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// List returns all configured sites
func (s *siteStore) List(ctx context.Context) ([]storage.Site, error) {
	ids, err := s.client.SMembers(ctx, keySiteSet).Result()
	if err != nil {
		return nil, err
	}

	sites := make([]storage.Site, 0, len(ids))
	for _, id := range ids {
		site, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		sites = append(sites, *site)
	}
	return sites, nil
}

// Upsert creates or updates a site, enforcing domain uniqueness
func (s *siteStore) Upsert(ctx context.Context, site storage.Site) error {
	if site.ID == "" {
		return fmt.Errorf("site id is required")
	}

	// Reject a domain already owned by a different site.
	existingID, err := s.client.Get(ctx, siteDomainKey(site.Domain)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if err == nil && existingID != site.ID {
		return storage.ErrDomainExists
	}

	// Drop the old domain index entry if the domain changed.
	if old, err := s.Get(ctx, site.ID); err == nil && old.Domain != site.Domain {
		if err := s.client.Del(ctx, siteDomainKey(old.Domain)).Err(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("marshal site: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, siteKey(site.ID), data, 0)
	pipe.Set(ctx, siteDomainKey(site.Domain), site.ID, 0)
	pipe.SAdd(ctx, keySiteSet, site.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes a site and its domain index entry
func (s *siteStore) Delete(ctx context.Context, id string) error {
	site, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, siteKey(id))
	pipe.Del(ctx, siteDomainKey(site.Domain))
	pipe.SRem(ctx, keySiteSet, id)
	_, err = pipe.Exec(ctx)
	return err
}

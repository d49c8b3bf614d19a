package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/expression"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrCacheNotFound: no cache exists for the requested labels.
var ErrCacheNotFound = errors.New("api: cache not found")

// Service is the query surface a serving layer (REST/gRPC) consumes:
// count, query, get and describe against caches addressed by labels.
// Transport, authentication and encoding of responses belong to the
// caller.
type Service struct {
	manager *manager.Manager
	logger  zerolog.Logger
}

// NewService creates a service over a cache manager.
func NewService(m *manager.Manager) *Service {
	return &Service{manager: m, logger: log.WithComponent("api")}
}

func (s *Service) roCache(labels types.Labels) (cache.RoCache, error) {
	c, err := s.manager.OpenRoCache(labels)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: labels %s", ErrCacheNotFound, labels)
	}
	return c, nil
}

// Count returns how many live records match the filter. A nil or empty
// filter counts all live records.
func (s *Service) Count(labels types.Labels, filterJSON []byte) (uint64, error) {
	c, err := s.roCache(labels)
	if err != nil {
		return 0, err
	}
	if len(filterJSON) == 0 {
		return c.Count()
	}
	filter, err := expression.ParseFilter(filterJSON)
	if err != nil {
		return 0, err
	}
	// Unbounded: limit and skip do not apply to counts.
	records, err := c.Query(expression.QueryExpression{Filter: filter})
	if err != nil {
		return 0, err
	}
	return uint64(len(records)), nil
}

// Query decodes a JSON query expression and returns the matching records
// with their identity and version.
func (s *Service) Query(labels types.Labels, queryJSON []byte) ([]types.RecordWithMeta, error) {
	c, err := s.roCache(labels)
	if err != nil {
		return nil, err
	}
	query := expression.QueryExpression{Limit: expression.DefaultLimit}
	if len(queryJSON) > 0 {
		if err := json.Unmarshal(queryJSON, &query); err != nil {
			return nil, err
		}
	}
	return c.Query(query)
}

// Get returns the record stored under the primary-key fields, in
// primary-index order.
func (s *Service) Get(labels types.Labels, pk []types.Field) (types.RecordWithMeta, error) {
	c, err := s.roCache(labels)
	if err != nil {
		return types.RecordWithMeta{}, err
	}
	return c.Get(pk)
}

// CacheInfo is the describe surface: schema, indexes and progress.
type CacheInfo struct {
	Name        string                  `json:"name"`
	Labels      types.Labels            `json:"labels"`
	Schema      types.Schema            `json:"schema"`
	Indexes     []types.IndexDefinition `json:"indexes"`
	LiveRecords uint64                  `json:"live_records"`
	Progress    []IndexState            `json:"progress"`
}

// IndexState reports one index's replay position.
type IndexState struct {
	Name     string `json:"name"`
	Position uint64 `json:"position"`
	Failed   bool   `json:"failed,omitempty"`
}

// Describe returns a cache's schema, index list and indexing progress.
func (s *Service) Describe(labels types.Labels) (CacheInfo, error) {
	c, err := s.roCache(labels)
	if err != nil {
		return CacheInfo{}, err
	}
	count, err := c.Count()
	if err != nil {
		return CacheInfo{}, err
	}
	progress, err := c.IndexProgress()
	if err != nil {
		return CacheInfo{}, err
	}
	info := CacheInfo{
		Name:        c.Name(),
		Labels:      c.Labels(),
		Schema:      c.Schema(),
		Indexes:     c.Indexes(),
		LiveRecords: count,
	}
	for _, p := range progress {
		info.Progress = append(info.Progress, IndexState{
			Name:     p.Definition.Name(),
			Position: p.Position,
			Failed:   p.Failed,
		})
	}
	return info, nil
}

package catalog

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jCatalog reads Sense nodes from a Neo4j graph.
type Neo4jCatalog struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jCatalog creates a catalog backed by the Neo4j instance at uri.
func NewNeo4jCatalog(uri, user, password string, logger *zap.Logger) (*Neo4jCatalog, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jCatalog{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (c *Neo4jCatalog) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (c *Neo4jCatalog) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraint on Sense ids.
func (c *Neo4jCatalog) EnsureSchema(ctx context.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT sense_id IF NOT EXISTS FOR (s:Sense) REQUIRE s.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create sense constraint: %w", err)
	}
	return nil
}

// Put upserts a Sense node.
func (c *Neo4jCatalog) Put(ctx context.Context, s *Sense) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := session.Run(ctx,
		`MERGE (s:Sense {id: $id})
		 SET s.lemma = $lemma, s.gloss = $gloss, s.example = $example,
		     s.level = $level, s.tags = $tags`,
		map[string]interface{}{
			"id":      s.ID,
			"lemma":   s.Lemma,
			"gloss":   s.Gloss,
			"example": s.Example,
			"level":   s.Level.String(),
			"tags":    tags,
		})
	if err != nil {
		return fmt.Errorf("put sense %s: %w", s.ID, err)
	}
	return nil
}

const senseReturn = `
	RETURN s.id AS id,
	       coalesce(s.lemma, '') AS lemma,
	       coalesce(s.gloss, '') AS gloss,
	       coalesce(s.example, '') AS example,
	       coalesce(s.level, '') AS level,
	       coalesce(s.tags, []) AS tags`

func (c *Neo4jCatalog) Get(ctx context.Context, id string) (*Sense, error) {
	senses, err := c.query(ctx, `MATCH (s:Sense {id: $id})`+senseReturn,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(senses) == 0 {
		return nil, fmt.Errorf("get %s: %w", id, ErrSenseNotFound)
	}
	return senses[0], nil
}

func (c *Neo4jCatalog) List(ctx context.Context) ([]*Sense, error) {
	senses, err := c.query(ctx, `MATCH (s:Sense)`+senseReturn+` ORDER BY id`, nil)
	if err != nil {
		return nil, fmt.Errorf("list senses: %w", err)
	}
	return senses, nil
}

func (c *Neo4jCatalog) query(ctx context.Context, cypher string, params map[string]interface{}) ([]*Sense, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var out []*Sense
	for result.Next(ctx) {
		rec := result.Record()
		s := &Sense{}
		if v, ok := rec.Get("id"); ok && v != nil {
			s.ID = v.(string)
		}
		if v, ok := rec.Get("lemma"); ok && v != nil {
			s.Lemma = v.(string)
		}
		if v, ok := rec.Get("gloss"); ok && v != nil {
			s.Gloss = v.(string)
		}
		if v, ok := rec.Get("example"); ok && v != nil {
			s.Example = v.(string)
		}
		if v, ok := rec.Get("level"); ok && v != nil {
			if lvl, err := ParseCEFR(v.(string)); err == nil {
				s.Level = lvl
			} else {
				c.logger.Warn("sense has invalid level", zap.String("sense", s.ID), zap.Error(err))
			}
		}
		if v, ok := rec.Get("tags"); ok && v != nil {
			for _, t := range v.([]interface{}) {
				if tag, ok := t.(string); ok {
					s.Tags = append(s.Tags, tag)
				}
			}
		}
		out = append(out, s)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

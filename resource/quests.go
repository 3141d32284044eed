package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

const questSchema = `{
  "type": "object",
  "required": ["tier", "required_item", "required_amount"],
  "properties": {
    "profession":        {"type": "string"},
    "tier":              {"type": "integer", "minimum": 1},
    "required_item":     {"type": "string", "minLength": 1},
    "required_amount":   {"type": "integer", "minimum": 1},
    "reward_experience": {"type": "integer"}
  }
}`

// ErrEmptyReload is returned when a reload would leave a populated catalog with
// no definitions at all.
var ErrEmptyReload = errors.New("resource: no usable quest definitions")

// ReloadResult summarizes one pass over the definitions file.
type ReloadResult struct {
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// QuestLoader fills a catalog from a JSON array of quest records.
type QuestLoader struct {
	catalog *quest.Catalog
	items   *quest.ItemRegistry
	schema  *jsonschema.Schema
	logger  *zap.Logger

	mu sync.Mutex // one reload at a time
}

// NewQuestLoader creates a loader that swaps definitions into catalog.
func NewQuestLoader(catalog *quest.Catalog, items *quest.ItemRegistry, logger *zap.Logger) (*QuestLoader, error) {
	schema, err := jsonschema.CompileString("quest.schema.json", questSchema)
	if err != nil {
		return nil, fmt.Errorf("resource: compile quest schema: %w", err)
	}
	return &QuestLoader{catalog: catalog, items: items, schema: schema, logger: logger}, nil
}

// Reload reads path and replaces the whole catalog with the entries that decode.
// Bad entries are skipped with a warning. If the file cannot be read, is not a
// JSON array, or yields nothing while the catalog is populated, the catalog
// keeps its current set and the error is returned.
func (l *QuestLoader) Reload(path string) (ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("quest definitions unreadable, keeping current set",
			zap.String("path", path), zap.Error(err))
		return ReloadResult{}, fmt.Errorf("resource: read %s: %w", path, err)
	}
	return l.ReloadBytes(data, path)
}

// ReloadBytes is Reload over an in-memory document; source names it in logs.
func (l *QuestLoader) ReloadBytes(data []byte, source string) (ReloadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		l.logger.Warn("quest definitions malformed, keeping current set",
			zap.String("path", source), zap.Error(err))
		return ReloadResult{}, fmt.Errorf("resource: parse %s: %w", source, err)
	}

	var res ReloadResult
	defs := make([]*quest.Definition, 0, len(raw))
	for i, entry := range raw {
		def, err := l.decode(entry)
		if err != nil {
			res.Skipped++
			l.logger.Warn("quest definition skipped",
				zap.String("path", source),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 && l.catalog.Len() > 0 {
		l.logger.Warn("quest definitions empty, keeping current set",
			zap.String("path", source),
			zap.Int("skipped", res.Skipped),
			zap.Int("current", l.catalog.Len()))
		return res, fmt.Errorf("%w in %s (%d skipped)", ErrEmptyReload, source, res.Skipped)
	}
	l.catalog.Replace(defs)
	res.Loaded = len(defs)
	l.logger.Info("quest definitions loaded",
		zap.String("path", source),
		zap.Int("loaded", res.Loaded),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (l *QuestLoader) decode(entry json.RawMessage) (*quest.Definition, error) {
	var doc any
	if err := json.Unmarshal(entry, &doc); err != nil {
		return nil, err
	}
	if err := l.schema.Validate(doc); err != nil {
		return nil, err
	}
	var rec quest.Record
	if err := json.Unmarshal(entry, &rec); err != nil {
		return nil, err
	}
	return quest.FromRecord(rec, l.items)
}

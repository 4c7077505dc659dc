// Package ingest turns self-introduction documents into stored profiles.
//
// A document's text is extracted, a generative model is asked for a JSON array of
// {name, hobby} records, and each record becomes a Profile tagged with the document's
// source ID. Re-ingesting a source replaces the profiles it produced before.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/extract"
	"github.com/hyperjump/nakama/internal/fileid"
	"github.com/hyperjump/nakama/internal/llm"
	"github.com/hyperjump/nakama/internal/metrics"
	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/storage"
)

var (
	// ErrSkipped is returned for files whose name is not an ingestion target.
	ErrSkipped = errors.New("not a target file")
	// ErrEmptyDocument is returned when no text could be extracted.
	ErrEmptyDocument = errors.New("document contains no text")
	// ErrNoProfiles is returned when the model response yields no usable records.
	ErrNoProfiles = errors.New("no profiles found in document")
)

// Result describes one ingested document.
type Result struct {
	Source   string
	FileName string
	// Replaced is the number of profiles from an earlier ingestion of the same source.
	Replaced int64
	Profiles []*models.Profile
}

// Pipeline ingests documents into a profile store.
type Pipeline struct {
	store     storage.Storage
	client    llm.Client
	extractor *extract.Extractor
	targets   map[string]struct{}
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTargetFileNames restricts ingestion to files with these base names.
// An empty list accepts every file.
func WithTargetFileNames(names []string) Option {
	return func(p *Pipeline) {
		p.targets = make(map[string]struct{}, len(names))
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				p.targets[n] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline returns a Pipeline writing to store and extracting records with client.
func NewPipeline(store storage.Storage, client llm.Client, opts ...Option) *Pipeline {
	if client == nil {
		client = llm.Disabled{}
	}
	p := &Pipeline{
		store:     store,
		client:    client,
		extractor: extract.NewExtractor(),
		targets:   map[string]struct{}{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accepts reports whether a file with this name is ingested.
func (p *Pipeline) Accepts(name string) bool {
	if len(p.targets) == 0 {
		return true
	}
	_, ok := p.targets[filepath.Base(name)]
	return ok
}

// IngestFile ingests the local file at path under its path-derived source ID.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if !p.Accepts(abs) {
		metrics.ObserveIngest(metrics.OutcomeSkipped, 0)
		return nil, fmt.Errorf("%w: %s", ErrSkipped, filepath.Base(abs))
	}
	text, err := p.extractor.Extract(abs)
	if err != nil {
		metrics.ObserveIngest(metrics.OutcomeError, 0)
		return nil, fmt.Errorf("extract %s: %w", abs, err)
	}
	return p.ingest(ctx, fileid.ForPath(abs), filepath.Base(abs), text)
}

// IngestBytes ingests document content named name under source. An empty source
// derives one from the name and content.
func (p *Pipeline) IngestBytes(ctx context.Context, source, name string, content []byte) (*Result, error) {
	if !p.Accepts(name) {
		metrics.ObserveIngest(metrics.OutcomeSkipped, 0)
		return nil, fmt.Errorf("%w: %s", ErrSkipped, name)
	}
	if source == "" {
		source = fileid.ForUpload(name, content)
	}
	text, err := p.extractor.ExtractBytes(content, filepath.Ext(name))
	if err != nil {
		metrics.ObserveIngest(metrics.OutcomeError, 0)
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	return p.ingest(ctx, source, name, text)
}

// IngestText ingests already extracted text under source.
func (p *Pipeline) IngestText(ctx context.Context, source, text string) (*Result, error) {
	return p.ingest(ctx, source, "", text)
}

// RemoveSource deletes every profile ingested from source.
func (p *Pipeline) RemoveSource(ctx context.Context, source string) (int64, error) {
	n, err := p.store.DeleteProfilesBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("delete profiles for %s: %w", source, err)
	}
	if n > 0 {
		p.logger.Info("removed profiles", zap.String("source", source), zap.Int64("count", n))
	}
	return n, nil
}

// RemoveFile deletes every profile ingested from the local file at path.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) (int64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return p.RemoveSource(ctx, fileid.ForPath(abs))
}

func (p *Pipeline) ingest(ctx context.Context, source, name, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		metrics.ObserveIngest(metrics.OutcomeEmpty, 0)
		return nil, ErrEmptyDocument
	}

	response, err := p.client.Generate(ctx, Prompt(text))
	if err != nil {
		metrics.ObserveIngest(metrics.OutcomeError, 0)
		return nil, fmt.Errorf("extract profiles: %w", err)
	}
	profiles, err := ParseExtraction(response)
	if err != nil {
		metrics.ObserveIngest(metrics.OutcomeError, 0)
		return nil, err
	}

	replaced, err := p.store.ReplaceProfilesBySource(ctx, source, profiles)
	if err != nil {
		metrics.ObserveIngest(metrics.OutcomeError, 0)
		return nil, fmt.Errorf("replace profiles for %s: %w", source, err)
	}

	metrics.ObserveIngest(metrics.OutcomeSuccess, len(profiles))
	p.logger.Info("ingested document",
		zap.String("source", source),
		zap.String("file", name),
		zap.Int("profiles", len(profiles)),
		zap.Int64("replaced", replaced))
	return &Result{
		Source:   source,
		FileName: name,
		Replaced: replaced,
		Profiles: profiles,
	}, nil
}

// Prompt asks the model for the people described in text.
func Prompt(text string) string {
	return fmt.Sprintf(`以下の自己紹介文から、各人物の「名前」と「趣味」の情報を抽出し、
"name"と"hobby"をキーに持つJSONオブジェクトの配列（リスト）として、
JSON文字列のみを出力してください。他の説明は不要です。
"hobby"は趣味ごとに分けた文字列の配列にしてください。
出身地、ローマ字表記の名前、部署が書かれている場合は、それぞれ"birthplace"、"name_roman"、"department"キーで追加してください。

--- 自己紹介文 ---
%s
--- 自己紹介文終わり ---`, text)
}

// ParseExtraction parses a model response holding a JSON array of records, or a single
// record, into profiles with derived keyword fields. Records with neither a name nor a
// hobby are dropped.
func ParseExtraction(response string) ([]*models.Profile, error) {
	payload, err := llm.ExtractJSON(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProfiles, err)
	}
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrNoProfiles, err)
	}

	var records []map[string]any
	switch v := decoded.(type) {
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				records = append(records, m)
			}
		}
	case map[string]any:
		records = append(records, v)
	}

	profiles := []*models.Profile{}
	for _, rec := range records {
		prof := models.ProfileFromDocument("", rec)
		prof.ID = ""
		prof.Source = ""
		prof.Name = strings.TrimSpace(prof.Name)
		prof.Hobby = trimAll(prof.Hobby)
		if prof.Name == "" && len(prof.Hobby) == 0 {
			continue
		}
		profiles = append(profiles, prof.WithDerivedKeywords())
	}
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}
	return profiles, nil
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

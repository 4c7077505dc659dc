// Package booklet generates circle activity booklets themed on a hobby and birthplace.
package booklet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/llm"
	"github.com/hyperjump/nakama/internal/metrics"
)

// Booklet is a generated text document.
type Booklet struct {
	FileName string
	Content  string
	// Source is metrics.SourceLLM, metrics.SourceCache or metrics.SourceFallback.
	Source string
}

// Cache stores generated booklet text.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Generator produces booklets. Generate never fails: when the model is unavailable or
// errors, a templated fallback is returned instead.
type Generator struct {
	client  llm.Client
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithCache caches model output for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(g *Generator) {
		g.cache = c
		g.ttl = ttl
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator returns a Generator backed by client. A nil client always falls back.
func NewGenerator(client llm.Client, opts ...Option) *Generator {
	if client == nil {
		client = llm.Disabled{}
	}
	g := &Generator{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a booklet for the trimmed terms.
func (g *Generator) Generate(ctx context.Context, hobby, birthplace string) *Booklet {
	hobby = strings.TrimSpace(hobby)
	birthplace = strings.TrimSpace(birthplace)
	b := &Booklet{FileName: FileName(hobby, birthplace)}
	key := CacheKey(hobby, birthplace)

	if g.cache != nil {
		content, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			g.logger.Warn("booklet cache read failed", zap.Error(err))
		} else if ok {
			b.Content, b.Source = content, metrics.SourceCache
			metrics.ObserveBooklet(b.Source)
			return b
		}
	}

	content, err := g.generate(ctx, hobby, birthplace)
	if err != nil {
		g.logger.Warn("booklet generation failed, using fallback",
			zap.String("hobby", hobby),
			zap.String("birthplace", birthplace),
			zap.Error(err))
		b.Content, b.Source = Fallback(hobby, birthplace), metrics.SourceFallback
		metrics.ObserveBooklet(b.Source)
		return b
	}

	b.Content, b.Source = content, metrics.SourceLLM
	metrics.ObserveBooklet(b.Source)
	if g.cache != nil {
		if err := g.cache.Set(ctx, key, content, g.ttl); err != nil {
			g.logger.Warn("booklet cache write failed", zap.Error(err))
		}
	}
	return b
}

func (g *Generator) generate(ctx context.Context, hobby, birthplace string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.client.Generate(ctx, Prompt(hobby, birthplace))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty booklet text")
	}
	return text, nil
}

// CacheKey derives a stable cache key from the terms.
func CacheKey(hobby, birthplace string) string {
	sum := sha256.Sum256([]byte(hobby + "\x00" + birthplace))
	return "nakama:booklet:" + hex.EncodeToString(sum[:])
}

// theme joins the non-empty terms for titles and prompts.
func theme(hobby, birthplace string) string {
	switch {
	case hobby != "" && birthplace != "":
		return birthplace + "出身の" + hobby + "好き"
	case hobby != "":
		return hobby + "好き"
	case birthplace != "":
		return birthplace + "出身者"
	}
	return "社内の仲間"
}

// Prompt builds the model prompt for a booklet.
func Prompt(hobby, birthplace string) string {
	var conditions []string
	if hobby != "" {
		conditions = append(conditions, "趣味: "+hobby)
	}
	if birthplace != "" {
		conditions = append(conditions, "出身地: "+birthplace)
	}
	return fmt.Sprintf(`社内サークル活動の紹介冊子を作成してください。
対象は「%s」のメンバーです。

条件:
%s

以下の構成でプレーンテキストのみを出力してください。
1. サークル名の提案
2. 活動内容の紹介
3. 活動スケジュール例
4. 参加の呼びかけ`, theme(hobby, birthplace), strings.Join(conditions, "\n"))
}

// Fallback returns the templated booklet used when generation fails.
func Fallback(hobby, birthplace string) string {
	var b strings.Builder
	t := theme(hobby, birthplace)
	fmt.Fprintf(&b, "【サークル活動冊子】%sの集まり\n\n", t)
	b.WriteString("■ 概要\n")
	fmt.Fprintf(&b, "%sが気軽に集まり、交流を深めるためのサークルです。\n\n", t)
	b.WriteString("■ 活動内容\n")
	if hobby != "" {
		fmt.Fprintf(&b, "・%sを一緒に楽しむ定例会\n", hobby)
		fmt.Fprintf(&b, "・%sの経験や情報を共有する勉強会\n", hobby)
	}
	if birthplace != "" {
		fmt.Fprintf(&b, "・%sの話題やおすすめスポットを紹介し合う交流会\n", birthplace)
	}
	b.WriteString("・季節ごとの懇親イベント\n\n")
	b.WriteString("■ スケジュール例\n")
	b.WriteString("・月1回 定例会\n")
	b.WriteString("・四半期に1回 懇親イベント\n\n")
	b.WriteString("■ 参加方法\n")
	b.WriteString("興味のある方はどなたでも歓迎です。お気軽にご参加ください。\n")
	return b.String()
}

// FileName derives <hobby>_<birthplace>_サークル活動冊子.txt. Empty terms are dropped and
// characters unsafe in file names are replaced with "_".
func FileName(hobby, birthplace string) string {
	var parts []string
	for _, term := range []string{hobby, birthplace} {
		if s := sanitize(term); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, "サークル活動冊子")
	return strings.Join(parts, "_") + ".txt"
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\n', '\r', '\t', 0:
			return '_'
		}
		return r
	}, s)
}

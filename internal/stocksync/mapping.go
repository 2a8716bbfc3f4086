// Package stocksync は製造現場の在庫数をCRM側の共有在庫コレクションへ同期する。
// 同期はベストエフォートであり、失敗しても在庫の書き込み自体には影響しない。
package stocksync

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed mapping.yaml
var defaultMapping []byte

// DefaultUnit は商品に単位が指定されていない場合の単位。
const DefaultUnit = "bottles"

// mappingFile はマッピングYAMLの構造。
type mappingFile struct {
	Products []struct {
		ID         string   `yaml:"id"`
		Unit       string   `yaml:"unit"`
		Categories []string `yaml:"categories"`
	} `yaml:"products"`
	LocalOnly []string `yaml:"local_only"`
}

// Mapping はボトル区分から商品IDへの多対一の対応表。
// 生成後は変更されないため、並行して参照してよい。
type Mapping struct {
	productOf map[string]string
	units     map[string]string
	localOnly map[string]struct{}
}

// LoadMapping は対応表を読み込む。pathが空の場合は組み込みの既定値を使う。
func LoadMapping(path string) (*Mapping, error) {
	if path == "" {
		return ParseMapping(defaultMapping)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stock mapping file: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping はYAMLから対応表を生成する。
// 1つの区分が複数の商品に対応している場合はエラーを返す。
func ParseMapping(data []byte) (*Mapping, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse stock mapping: %w", err)
	}

	m := &Mapping{
		productOf: make(map[string]string),
		units:     make(map[string]string),
		localOnly: make(map[string]struct{}),
	}
	for _, p := range f.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("stock mapping: product id is required")
		}
		if _, dup := m.units[id]; dup {
			return nil, fmt.Errorf("stock mapping: duplicate product %q", id)
		}
		unit := strings.TrimSpace(p.Unit)
		if unit == "" {
			unit = DefaultUnit
		}
		m.units[id] = unit

		for _, c := range p.Categories {
			c = normalizeCategory(c)
			if prev, dup := m.productOf[c]; dup {
				return nil, fmt.Errorf("stock mapping: category %q maps to both %q and %q", c, prev, id)
			}
			m.productOf[c] = id
		}
	}
	for _, c := range f.LocalOnly {
		c = normalizeCategory(c)
		if _, dup := m.productOf[c]; dup {
			return nil, fmt.Errorf("stock mapping: category %q is both mapped and local-only", c)
		}
		m.localOnly[c] = struct{}{}
	}
	return m, nil
}

// Known は区分が在庫として記録できるかどうかを返す。
// 同期しない区分（local_only）も含む。
func (m *Mapping) Known(category string) bool {
	c := normalizeCategory(category)
	if _, ok := m.productOf[c]; ok {
		return true
	}
	_, ok := m.localOnly[c]
	return ok
}

// Categories は記録できる全区分を名前順で返す。
func (m *Mapping) Categories() []string {
	out := make([]string, 0, len(m.productOf)+len(m.localOnly))
	for c := range m.productOf {
		out = append(out, c)
	}
	for c := range m.localOnly {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Unit は商品の単位を返す。
func (m *Mapping) Unit(productID string) string {
	if u, ok := m.units[productID]; ok {
		return u
	}
	return DefaultUnit
}

// Aggregate は区分別の在庫数を商品別に集計する。
// 対応表に無い区分は捨て、同じ商品に対応する区分の数は合算する。負の値は0として扱う。
func (m *Mapping) Aggregate(counts map[string]int) map[string]int {
	out := make(map[string]int)
	for category, n := range counts {
		productID, ok := m.productOf[normalizeCategory(category)]
		if !ok {
			continue
		}
		if n < 0 {
			n = 0
		}
		out[productID] += n
	}
	return out
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// Package prompts loads the instruction blocks a conversational front-end
// sends ahead of the database context.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Defaults are used when the prompt folder does not exist.
var Defaults = map[string]string{
	"system": `You are a helpful vehicle database assistant. You have access to a vehicle database and can help users query and understand vehicle data.
You can execute SQL queries, analyze data, and provide insights about vehicles.
Always be helpful, accurate, and explain your reasoning.`,

	"sql_helper": `You are an expert SQL assistant for a vehicle database.
Help users write SQL queries to extract information from the database.
Database schema: {schema}
Sample data: {sample_data}
Always provide safe, read-only queries.`,

	"data_analyst": `You are a data analyst specializing in vehicle data.
Analyze the provided data and give meaningful insights.
Focus on trends, patterns, and actionable information.`,
}

// Set is a collection of named prompt blocks.
type Set struct {
	blocks map[string]string
	// Defaulted is true when the folder was missing and Defaults were used.
	Defaulted bool
}

// Load reads every regular file in dir as one block named after the file
// without its extension. Content is trimmed of surrounding whitespace.
// A missing dir yields the built-in Defaults; any other error is returned.
func Load(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return FromMap(Defaults, true), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompt folder %s: %w", dir, err)
	}

	blocks := map[string]string{}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		blocks[name] = strings.TrimSpace(string(b))
	}
	return FromMap(blocks, false), nil
}

// FromMap builds a Set from in-memory blocks.
func FromMap(blocks map[string]string, defaulted bool) *Set {
	cp := make(map[string]string, len(blocks))
	for k, v := range blocks {
		cp[k] = v
	}
	return &Set{blocks: cp, Defaulted: defaulted}
}

// WriteDefaults creates dir with one <name>.txt file per default block,
// leaving existing files alone.
func WriteDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, body := range Defaults {
		p := filepath.Join(dir, name+".txt")
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named block, or "" when absent.
func (s *Set) Get(name string) string { return s.blocks[name] }

// Names lists block names in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.blocks))
	for k := range s.blocks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Combined joins every block as "name:\ncontent", separated by blank lines,
// in name order.
func (s *Set) Combined() string {
	names := s.Names()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ":\n" + s.blocks[n]
	}
	return strings.Join(parts, "\n\n")
}

// WithContext appends the database context after the combined blocks, the
// system message shape the front-end expects.
func (s *Set) WithContext(dbContext string) string {
	return s.Combined() + "\n\nDatabase Context:\n" + dbContext
}

package domain

import "sort"

type Document struct {
	ID       string `json:"id"`
	FolderID string `json:"folder_id"`
	Title    string `json:"title"`
}

type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
	ChunkOrder int    `json:"chunk_order"`
}

// DocumentIDSet is the access scope of one request.
type DocumentIDSet map[string]struct{}

func NewDocumentIDSet(ids ...string) DocumentIDSet {
	set := make(DocumentIDSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func (s DocumentIDSet) Add(id string) {
	if id == "" {
		return
	}
	s[id] = struct{}{}
}

func (s DocumentIDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s DocumentIDSet) Len() int {
	return len(s)
}

// IDs returns the members sorted for stable queries and logs.
func (s DocumentIDSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

package chat

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

var (
	ErrTagNotFound    = errors.New("tag not found")
	ErrTagNameMissing = errors.New("tag name is required")
)

// Tags lists the catalogue ordered by id.
func (s *Service) Tags(_ context.Context) []chat.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Tag, 0, len(s.tags))
	for _, tag := range s.tags {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tag looks up one tag.
func (s *Service) Tag(_ context.Context, id int) (chat.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[id]
	if !ok {
		return chat.Tag{}, ErrTagNotFound
	}
	return tag, nil
}

// CreateTag adds a tag and assigns its id.
func (s *Service) CreateTag(_ context.Context, tag chat.Tag) (chat.Tag, error) {
	tag.Name = strings.TrimSpace(tag.Name)
	if tag.Name == "" {
		return chat.Tag{}, ErrTagNameMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTag++
	tag.ID = s.nextTag
	s.tags[tag.ID] = tag
	return tag, nil
}

// UpdateTag replaces a tag's fields.
func (s *Service) UpdateTag(_ context.Context, id int, tag chat.Tag) (chat.Tag, error) {
	tag.Name = strings.TrimSpace(tag.Name)
	if tag.Name == "" {
		return chat.Tag{}, ErrTagNameMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[id]; !ok {
		return chat.Tag{}, ErrTagNotFound
	}
	tag.ID = id
	s.tags[id] = tag
	return tag, nil
}

// DeleteTag removes a tag and detaches it from every session.
func (s *Service) DeleteTag(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[id]; !ok {
		return ErrTagNotFound
	}
	delete(s.tags, id)
	for _, sess := range s.sessions {
		kept := sess.TagIDs[:0]
		for _, tagID := range sess.TagIDs {
			if tagID != id {
				kept = append(kept, tagID)
			}
		}
		sess.TagIDs = kept
	}
	return nil
}

// SessionTags returns the tags attached to a session.
func (s *Service) SessionTags(_ context.Context, sessionID int) ([]chat.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]chat.Tag, 0, len(sess.TagIDs))
	for _, id := range sess.TagIDs {
		if tag, ok := s.tags[id]; ok {
			out = append(out, tag)
		}
	}
	return out, nil
}

func (s *Service) tagNamesLocked(ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if tag, ok := s.tags[id]; ok {
			names = append(names, tag.Name)
		}
	}
	return names
}

// SearchKnowledge ranks entries by how many query words they contain.
func (s *Service) SearchKnowledge(_ context.Context, query string, limit int) []chat.KnowledgeResult {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []chat.KnowledgeResult{}
	}
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]chat.KnowledgeResult, 0, len(s.knowledge))
	for _, entry := range s.knowledge {
		text := strings.ToLower(entry.Title + " " + entry.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		entry.Score = float64(matched) / float64(len(terms))
		hits = append(hits, entry)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

package shop

import (
	"fmt"
	"strings"

	"xhbook/lib/platforms/xinhua"

	"github.com/antzucaro/matchr"
)

// books whose name or course is at least this similar to the query are kept
const similarityThreshold = 0.8

// Selection tracks which of the listed books are selected. Books are looked
// up by their id, never by position.
type Selection struct {
	books    []xinhua.Book
	index    map[string]int
	selected map[string]bool
}

func NewSelection(books []xinhua.Book) *Selection {
	s := &Selection{
		books:    books,
		index:    make(map[string]int, len(books)),
		selected: map[string]bool{},
	}
	for i, b := range books {
		s.index[b.BookID] = i
	}
	return s
}

func (s *Selection) Books() []xinhua.Book {
	return s.books
}

func (s *Selection) Set(bookID string, selected bool) error {
	if _, ok := s.index[bookID]; !ok {
		return fmt.Errorf("unknown book '%s'", bookID)
	}
	if selected {
		s.selected[bookID] = true
	} else {
		delete(s.selected, bookID)
	}
	return nil
}

// Toggle flips the book and returns whether it is now selected.
func (s *Selection) Toggle(bookID string) (bool, error) {
	now := !s.selected[bookID]
	return now, s.Set(bookID, now)
}

func (s *Selection) IsSelected(bookID string) bool {
	return s.selected[bookID]
}

func (s *Selection) SelectAll() {
	for _, b := range s.books {
		s.selected[b.BookID] = true
	}
}

func (s *Selection) Clear() {
	s.selected = map[string]bool{}
}

// Selected returns the selected books in list order.
func (s *Selection) Selected() []xinhua.Book {
	var out []xinhua.Book
	for _, b := range s.books {
		if s.selected[b.BookID] {
			out = append(out, b)
		}
	}
	return out
}

// Summary is the number of selected books and what they cost together.
func (s *Selection) Summary() (int, float64) {
	count := 0
	total := 0.0
	for _, b := range s.Selected() {
		count++
		total += b.RealPrice
	}
	return count, total
}

func matches(query, candidate string) bool {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" {
		return false
	}
	if strings.Contains(candidate, query) {
		return true
	}
	return matchr.JaroWinkler(query, candidate, false) >= similarityThreshold
}

// FilterBooks keeps the books whose name or course resembles the query. An
// empty query keeps everything.
func FilterBooks(books []xinhua.Book, query string) []xinhua.Book {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return books
	}
	var out []xinhua.Book
	for _, b := range books {
		if matches(query, b.BookName) || matches(query, b.Course) {
			out = append(out, b)
		}
	}
	return out
}

package productive

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// UnknownAuthor is the display name used when a person cannot be resolved
const UnknownAuthor = "Unknown"

// FetchPerson resolves a single person. A failure marks the cooldown gate.
func (c *Client) FetchPerson(ctx context.Context, personID string, sink interfaces.LogSink) (models.Person, error) {
	if err := c.gate.Wait(ctx, sink); err != nil {
		return models.Person{}, err
	}

	var doc singleDocument
	if err := c.get(ctx, c.resolve("/people/"+url.PathEscape(personID)), &doc); err != nil {
		if ctx.Err() == nil {
			c.gate.MarkError()
		}
		return models.Person{}, fmt.Errorf("failed to fetch person %s: %w", personID, err)
	}

	person := DecodePerson(doc.Data)
	if person.ID == "" {
		person.ID = personID
	}
	return person, nil
}

// PersonFetcher resolves a person by id
type PersonFetcher interface {
	FetchPerson(ctx context.Context, personID string, sink interfaces.LogSink) (models.Person, error)
}

// PersonCache memoizes person lookups for one export pass. Concurrent
// lookups of the same id share a single request. A failed lookup is cached
// as UnknownAuthor so a broken id is not retried for every comment.
type PersonCache struct {
	fetcher PersonFetcher
	mu      sync.Mutex
	people  map[string]models.Person
	group   singleflight.Group
}

// NewPersonCache creates an empty cache backed by fetcher
func NewPersonCache(fetcher PersonFetcher) *PersonCache {
	return &PersonCache{
		fetcher: fetcher,
		people:  make(map[string]models.Person),
	}
}

// Resolve returns the cached person or fetches it
func (p *PersonCache) Resolve(ctx context.Context, personID string, sink interfaces.LogSink) models.Person {
	if personID == "" {
		return models.Person{Name: UnknownAuthor}
	}

	p.mu.Lock()
	if person, ok := p.people[personID]; ok {
		p.mu.Unlock()
		return person
	}
	p.mu.Unlock()

	v, _, _ := p.group.Do(personID, func() (interface{}, error) {
		person, err := p.fetcher.FetchPerson(ctx, personID, sink)
		if err != nil || person.Name == "" {
			if err != nil && sink != nil {
				sink.Log(models.SeverityWarning, fmt.Sprintf("Could not resolve person %s: %v", personID, err))
			}
			person = models.Person{ID: personID, Name: UnknownAuthor, Email: person.Email}
		}
		if ctx.Err() == nil {
			p.mu.Lock()
			p.people[personID] = person
			p.mu.Unlock()
		}
		return person, nil
	})

	return v.(models.Person)
}

// Len returns the number of cached people
func (p *PersonCache) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.people)
}

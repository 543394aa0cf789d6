package linear

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ternarybob/taskferry/internal/models"
)

var operationName = regexp.MustCompile(`^\s*(?:query|mutation)\s+(\w+)`)

type fakeIssue struct {
	ref         models.LinearIssueRef
	description string
	stateID     string
	archived    bool
	comments    []string
	attachments []string
}

// fakeLinear is an in-memory Linear team answering the operations the
// replicator sends
type fakeLinear struct {
	mu        sync.Mutex
	seq       int
	issues    map[string]*fakeIssue
	order     []string
	states    []models.LinearState
	calls     map[string]int
	failOps   map[string]error
	failIDs   map[string]bool
	uploads   [][]byte
	uploadErr error

	// batchRejects lists comment bodies a combined BatchComment request
	// refuses while still applying the rest
	batchRejects map[string]bool
}

func newFakeLinear() *fakeLinear {
	return &fakeLinear{
		issues:       make(map[string]*fakeIssue),
		calls:        make(map[string]int),
		failOps:      make(map[string]error),
		failIDs:      make(map[string]bool),
		batchRejects: make(map[string]bool),
		states: []models.LinearState{
			{ID: "s-backlog", Name: "Backlog", Type: "backlog"},
			{ID: "s-todo", Name: "Todo", Type: "unstarted"},
			{ID: "s-progress", Name: "In Progress", Type: "started"},
			{ID: "s-review", Name: "In Review", Type: "started"},
			{ID: "s-done", Name: "Done", Type: "completed"},
		},
	}
}

func (f *fakeLinear) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeLinear) active() []*fakeIssue {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeIssue
	for _, id := range f.order {
		if issue, ok := f.issues[id]; ok && !issue.archived {
			out = append(out, issue)
		}
	}
	return out
}

func (f *fakeLinear) Upload(_ context.Context, target UploadTarget, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Upload"]++
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, data)
	return nil
}

func (f *fakeLinear) Do(_ context.Context, query string, vars map[string]interface{}, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := operationName.FindStringSubmatch(query)
	if m == nil {
		return errors.New("unnamed operation")
	}
	op := m[1]
	f.calls[op]++
	if err, ok := f.failOps[op]; ok {
		return err
	}

	var data interface{}
	switch op {
	case "TeamStates":
		data = map[string]interface{}{"team": map[string]interface{}{"states": map[string]interface{}{"nodes": f.states}}}
	case "FindIssuesByOrigin":
		url := vars["url"].(string)
		nodes := []map[string]interface{}{}
		for _, id := range f.order {
			if issue, ok := f.issues[id]; ok && strings.Contains(issue.description, url) {
				nodes = append(nodes, issue.node())
			}
		}
		data = map[string]interface{}{"issues": map[string]interface{}{"nodes": nodes}}
	case "CreateIssue":
		input := vars["input"].(map[string]interface{})
		f.seq++
		id := fmt.Sprintf("issue-%d", f.seq)
		issue := &fakeIssue{
			ref:         models.LinearIssueRef{ID: id, Identifier: fmt.Sprintf("ENG-%d", f.seq), URL: "https://linear.test/" + id},
			description: input["description"].(string),
		}
		if s, ok := input["stateId"].(string); ok {
			issue.stateID = s
		}
		f.issues[id] = issue
		f.order = append(f.order, id)
		data = map[string]interface{}{"issueCreate": map[string]interface{}{"success": true, "issue": issue.ref}}
	case "DeleteIssue":
		id := vars["id"].(string)
		_, ok := f.issues[id]
		delete(f.issues, id)
		data = map[string]interface{}{"issueDelete": map[string]interface{}{"success": ok}}
	case "ArchiveIssue":
		data = map[string]interface{}{"issueArchive": map[string]interface{}{"success": f.archive(vars["id"].(string))}}
	case "CreateComment":
		data = map[string]interface{}{"commentCreate": map[string]interface{}{"success": f.comment(vars["input"].(map[string]interface{}))}}
	case "BatchComment":
		out := map[string]interface{}{}
		var rejected []string
		for i := 0; ; i++ {
			v, ok := vars[fmt.Sprintf("c%d", i)]
			if !ok {
				break
			}
			input := v.(map[string]interface{})
			if f.batchRejects[input["body"].(string)] {
				out[alias(i)] = nil
				rejected = append(rejected, alias(i))
				continue
			}
			out[alias(i)] = map[string]interface{}{"success": f.comment(input)}
		}
		raw, _ := json.Marshal(out)
		if err := json.Unmarshal(raw, result); err != nil {
			return err
		}
		if len(rejected) > 0 {
			return &APIError{StatusCode: 200, Message: "rejected " + strings.Join(rejected, ", "), Code: "INPUT_ERROR"}
		}
		return nil
	case "BatchArchive":
		out := map[string]interface{}{}
		for i := 0; ; i++ {
			id, ok := vars[fmt.Sprintf("id%d", i)]
			if !ok {
				break
			}
			out[alias(i)] = map[string]interface{}{"success": f.archive(id.(string))}
		}
		data = out
	case "LinkURL":
		issue, ok := f.issues[vars["issueId"].(string)]
		if ok {
			issue.attachments = append(issue.attachments, "link:"+vars["url"].(string))
		}
		data = map[string]interface{}{"attachmentLinkURL": map[string]interface{}{"success": ok}}
	case "FileUpload":
		data = map[string]interface{}{"fileUpload": map[string]interface{}{
			"success": true,
			"uploadFile": map[string]interface{}{
				"uploadUrl": "https://upload.test/slot",
				"assetUrl":  "https://uploads.linear.app/asset",
				"headers":   []map[string]string{{"key": "x-amz-acl", "value": "private"}},
			},
		}}
	case "CreateAttachment":
		input := vars["input"].(map[string]interface{})
		issue, ok := f.issues[input["issueId"].(string)]
		if ok {
			issue.attachments = append(issue.attachments, "file:"+input["title"].(string))
		}
		data = map[string]interface{}{"attachmentCreate": map[string]interface{}{"success": ok}}
	default:
		return fmt.Errorf("unexpected operation %s", op)
	}

	raw, _ := json.Marshal(data)
	return json.Unmarshal(raw, result)
}

func (f *fakeLinear) archive(id string) bool {
	issue, ok := f.issues[id]
	if !ok || f.failIDs[id] {
		return false
	}
	issue.archived = true
	return true
}

func (f *fakeLinear) comment(input map[string]interface{}) bool {
	issue, ok := f.issues[input["issueId"].(string)]
	if !ok {
		return false
	}
	issue.comments = append(issue.comments, input["body"].(string))
	return true
}

// node renders the issue the way the issues search returns it
func (i *fakeIssue) node() map[string]interface{} {
	return map[string]interface{}{
		"id":          i.ref.ID,
		"identifier":  i.ref.Identifier,
		"url":         i.ref.URL,
		"description": i.description,
	}
}

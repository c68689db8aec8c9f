package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IdentityRef identifies a user or service principal.
type IdentityRef struct {
	Extra       Extra  `json:"-"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	UniqueName  string `json:"uniqueName,omitempty"`
	Descriptor  string `json:"descriptor,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *IdentityRef) UnmarshalJSON(data []byte) error {
	type plain IdentityRef
	var p plain
	extra, err := decodeOpen(data, "IdentityRef", &p)
	if err != nil {
		return err
	}
	*r = IdentityRef(p)
	r.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r IdentityRef) MarshalJSON() ([]byte, error) {
	type plain IdentityRef
	return encodeOpen(plain(r), r.Extra)
}

// IsZero reports whether the identity carries no identifying field.
func (r IdentityRef) IsZero() bool {
	return r.ID == "" && r.DisplayName == "" && r.UniqueName == "" && r.Descriptor == ""
}

// WorkItem is a tracked unit of work with an open map of fields.
type WorkItem struct {
	Fields map[string]any `json:"fields"`
	Extra  Extra          `json:"-"`
	URL    string         `json:"url,omitempty"`
	ID     int            `json:"id"`
	Rev    int            `json:"rev,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WorkItem) UnmarshalJSON(data []byte) error {
	type plain WorkItem
	var p plain
	extra, err := decodeOpen(data, "WorkItem", &p, "id", "fields")
	if err != nil {
		return err
	}
	*w = WorkItem(p)
	w.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (w WorkItem) MarshalJSON() ([]byte, error) {
	type plain WorkItem
	return encodeOpen(plain(w), w.Extra)
}

// StringField returns a field rendered as a string. Identity objects yield their display name.
func (w WorkItem) StringField(name string) string {
	return ValueString(w.Fields[name])
}

// ValueString renders a decoded field value as a string.
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		for _, k := range []string{"displayName", "uniqueName", "id"} {
			if s, ok := val[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// FieldChange is one field's transition within an update.
type FieldChange struct {
	Extra    Extra           `json:"-"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FieldChange) UnmarshalJSON(data []byte) error {
	type plain FieldChange
	var p plain
	extra, err := decodeOpen(data, "FieldChange", &p)
	if err != nil {
		return err
	}
	*f = FieldChange(p)
	f.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FieldChange) MarshalJSON() ([]byte, error) {
	type plain FieldChange
	return encodeOpen(plain(f), f.Extra)
}

// WorkItemUpdate is one revision in a work item's history.
type WorkItemUpdate struct {
	Fields      map[string]FieldChange `json:"fields,omitempty"`
	RevisedBy   *IdentityRef           `json:"revisedBy,omitempty"`
	Extra       Extra                  `json:"-"`
	RevisedDate string                 `json:"revisedDate"`
	ID          int                    `json:"id,omitempty"`
	Rev         int                    `json:"rev,omitempty"`
	WorkItemID  int                    `json:"workItemId,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *WorkItemUpdate) UnmarshalJSON(data []byte) error {
	type plain WorkItemUpdate
	var p plain
	extra, err := decodeOpen(data, "WorkItemUpdate", &p, "revisedDate")
	if err != nil {
		return err
	}
	*u = WorkItemUpdate(p)
	u.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (u WorkItemUpdate) MarshalJSON() ([]byte, error) {
	type plain WorkItemUpdate
	return encodeOpen(plain(u), u.Extra)
}

// PullRequest is a code review request.
type PullRequest struct {
	IsDraft       *bool       `json:"isDraft,omitempty"`
	Extra         Extra       `json:"-"`
	CreatedBy     IdentityRef `json:"createdBy"`
	CreationDate  string      `json:"creationDate"`
	ClosedDate    string      `json:"closedDate,omitempty"`
	Status        string      `json:"status"`
	Title         string      `json:"title,omitempty"`
	SourceRefName string      `json:"sourceRefName"`
	TargetRefName string      `json:"targetRefName"`
	ID            int         `json:"pullRequestId"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PullRequest) UnmarshalJSON(data []byte) error {
	type plain PullRequest
	var v plain
	extra, err := decodeOpen(data, "PullRequest", &v,
		"pullRequestId", "createdBy", "creationDate", "status", "sourceRefName", "targetRefName")
	if err != nil {
		return err
	}
	*p = PullRequest(v)
	p.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p PullRequest) MarshalJSON() ([]byte, error) {
	type plain PullRequest
	return encodeOpen(plain(p), p.Extra)
}

// Draft reports whether the pull request is marked as a draft.
func (p PullRequest) Draft() bool {
	return p.IsDraft != nil && *p.IsDraft
}

// PRComment is one comment inside a thread.
type PRComment struct {
	Author        *IdentityRef `json:"author,omitempty"`
	Extra         Extra        `json:"-"`
	Content       string       `json:"content,omitempty"`
	PublishedDate string       `json:"publishedDate"`
	CommentType   string       `json:"commentType,omitempty"`
	ID            int          `json:"id,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *PRComment) UnmarshalJSON(data []byte) error {
	type plain PRComment
	var p plain
	extra, err := decodeOpen(data, "PRComment", &p, "publishedDate")
	if err != nil {
		return err
	}
	*c = PRComment(p)
	c.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c PRComment) MarshalJSON() ([]byte, error) {
	type plain PRComment
	return encodeOpen(plain(c), c.Extra)
}

// IsSystem reports whether the comment was generated by the service rather than a person.
func (c PRComment) IsSystem() bool {
	return strings.EqualFold(c.CommentType, "system")
}

// PRThread is a discussion thread on a pull request.
type PRThread struct {
	Extra         Extra       `json:"-"`
	PublishedDate string      `json:"publishedDate,omitempty"`
	Status        string      `json:"status,omitempty"`
	Comments      []PRComment `json:"comments"`
	ID            int         `json:"id"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *PRThread) UnmarshalJSON(data []byte) error {
	type plain PRThread
	var p plain
	extra, err := decodeOpen(data, "PRThread", &p, "id", "comments")
	if err != nil {
		return err
	}
	*t = PRThread(p)
	t.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t PRThread) MarshalJSON() ([]byte, error) {
	type plain PRThread
	return encodeOpen(plain(t), t.Extra)
}

// PRReviewer is a reviewer and their vote. Votes: 10 approved, 5 approved with
// suggestions, 0 none, -5 waiting for author, -10 rejected.
type PRReviewer struct {
	IsRequired  *bool  `json:"isRequired,omitempty"`
	Extra       Extra  `json:"-"`
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName,omitempty"`
	Vote        int    `json:"vote"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *PRReviewer) UnmarshalJSON(data []byte) error {
	type plain PRReviewer
	var p plain
	extra, err := decodeOpen(data, "PRReviewer", &p, "id", "displayName", "vote")
	if err != nil {
		return err
	}
	*r = PRReviewer(p)
	r.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r PRReviewer) MarshalJSON() ([]byte, error) {
	type plain PRReviewer
	return encodeOpen(plain(r), r.Extra)
}

// Identity returns the reviewer as an identity reference.
func (r PRReviewer) Identity() IdentityRef {
	return IdentityRef{ID: r.ID, DisplayName: r.DisplayName, UniqueName: r.UniqueName}
}

// PRIteration is one pushed revision of a pull request.
type PRIteration struct {
	Extra       Extra  `json:"-"`
	CreatedDate string `json:"createdDate"`
	ID          int    `json:"id"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *PRIteration) UnmarshalJSON(data []byte) error {
	type plain PRIteration
	var p plain
	extra, err := decodeOpen(data, "PRIteration", &p, "id", "createdDate")
	if err != nil {
		return err
	}
	*i = PRIteration(p)
	i.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (i PRIteration) MarshalJSON() ([]byte, error) {
	type plain PRIteration
	return encodeOpen(plain(i), i.Extra)
}

// PolicyType names the kind of branch policy.
type PolicyType struct {
	Extra       Extra  `json:"-"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *PolicyType) UnmarshalJSON(data []byte) error {
	type plain PolicyType
	var p plain
	extra, err := decodeOpen(data, "PolicyType", &p, "displayName")
	if err != nil {
		return err
	}
	*t = PolicyType(p)
	t.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t PolicyType) MarshalJSON() ([]byte, error) {
	type plain PolicyType
	return encodeOpen(plain(t), t.Extra)
}

// PolicyConfiguration is the policy a evaluation ran against.
type PolicyConfiguration struct {
	Extra Extra      `json:"-"`
	Type  PolicyType `json:"type"`
	ID    int        `json:"id,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *PolicyConfiguration) UnmarshalJSON(data []byte) error {
	type plain PolicyConfiguration
	var p plain
	extra, err := decodeOpen(data, "PolicyConfiguration", &p, "type")
	if err != nil {
		return err
	}
	*c = PolicyConfiguration(p)
	c.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c PolicyConfiguration) MarshalJSON() ([]byte, error) {
	type plain PolicyConfiguration
	return encodeOpen(plain(c), c.Extra)
}

// PolicyEvaluation is the outcome of one policy on a pull request.
type PolicyEvaluation struct {
	Extra         Extra               `json:"-"`
	Configuration PolicyConfiguration `json:"configuration"`
	EvaluationID  string              `json:"evaluationId,omitempty"`
	Status        string              `json:"status"`
	StartedDate   string              `json:"startedDate,omitempty"`
	CompletedDate string              `json:"completedDate,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *PolicyEvaluation) UnmarshalJSON(data []byte) error {
	type plain PolicyEvaluation
	var p plain
	extra, err := decodeOpen(data, "PolicyEvaluation", &p, "configuration", "status")
	if err != nil {
		return err
	}
	*e = PolicyEvaluation(p)
	e.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e PolicyEvaluation) MarshalJSON() ([]byte, error) {
	type plain PolicyEvaluation
	return encodeOpen(plain(e), e.Extra)
}

// TypeName returns the lowercased policy type display name.
func (e PolicyEvaluation) TypeName() string {
	return strings.ToLower(e.Configuration.Type.DisplayName)
}

// GraphUser is a directory user.
type GraphUser struct {
	Extra         Extra  `json:"-"`
	ID            string `json:"id,omitempty"`
	Descriptor    string `json:"descriptor,omitempty"`
	OriginID      string `json:"originId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	UniqueName    string `json:"uniqueName,omitempty"`
	PrincipalName string `json:"principalName,omitempty"`
	MailAddress   string `json:"mailAddress,omitempty"`
	SubjectKind   string `json:"subjectKind,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *GraphUser) UnmarshalJSON(data []byte) error {
	type plain GraphUser
	var p plain
	extra, err := decodeOpen(data, "GraphUser", &p)
	if err != nil {
		return err
	}
	if p.ID == "" && p.Descriptor == "" && p.OriginID == "" {
		return &ValidationError{Kind: "GraphUser", Field: "descriptor", Err: errMissing}
	}
	*u = GraphUser(p)
	u.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (u GraphUser) MarshalJSON() ([]byte, error) {
	type plain GraphUser
	return encodeOpen(plain(u), u.Extra)
}

// Identity returns the user as an identity reference.
func (u GraphUser) Identity() IdentityRef {
	id := u.ID
	if id == "" {
		id = u.OriginID
	}
	unique := u.UniqueName
	if unique == "" {
		unique = u.PrincipalName
	}
	if unique == "" {
		unique = u.MailAddress
	}
	return IdentityRef{ID: id, DisplayName: u.DisplayName, UniqueName: unique, Descriptor: u.Descriptor}
}

// MaxAreaDepth bounds the nesting accepted for area trees.
const MaxAreaDepth = 64

var errTooDeep = fmt.Errorf("tree deeper than %d levels", MaxAreaDepth)

// AreaNode is a node in the area classification tree.
type AreaNode struct {
	Extra       Extra      `json:"-"`
	Identifier  string     `json:"identifier,omitempty"`
	Name        string     `json:"name"`
	Path        string     `json:"path,omitempty"`
	Children    []AreaNode `json:"children,omitempty"`
	ID          int        `json:"id,omitempty"`
	HasChildren bool       `json:"hasChildren,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *AreaNode) UnmarshalJSON(data []byte) error {
	type plain AreaNode
	var p plain
	extra, err := decodeOpen(data, "AreaNode", &p, "name")
	if err != nil {
		return err
	}
	*n = AreaNode(p)
	n.Extra = extra
	if n.Depth() > MaxAreaDepth {
		return &ValidationError{Kind: "AreaNode", Field: "children", Err: errTooDeep}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n AreaNode) MarshalJSON() ([]byte, error) {
	type plain AreaNode
	return encodeOpen(plain(n), n.Extra)
}

// Depth returns the number of levels in the subtree rooted at n.
func (n AreaNode) Depth() int {
	deepest := 0
	for i := range n.Children {
		deepest = max(deepest, n.Children[i].Depth())
	}
	return deepest + 1
}

// Walk calls fn for n and every descendant, parents first.
func (n AreaNode) Walk(fn func(AreaNode)) {
	fn(n)
	for i := range n.Children {
		n.Children[i].Walk(fn)
	}
}

// ResourceRef references another resource, such as a work item linked to a pull request.
type ResourceRef struct {
	Extra Extra  `json:"-"`
	ID    string `json:"id"`
	URL   string `json:"url,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ResourceRef) UnmarshalJSON(data []byte) error {
	type plain ResourceRef
	var p plain
	extra, err := decodeOpen(data, "ResourceRef", &p, "id")
	if err != nil {
		return err
	}
	*r = ResourceRef(p)
	r.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r ResourceRef) MarshalJSON() ([]byte, error) {
	type plain ResourceRef
	return encodeOpen(plain(r), r.Extra)
}

// WorkItemRef is a work item id returned by a query.
type WorkItemRef struct {
	Extra Extra  `json:"-"`
	URL   string `json:"url,omitempty"`
	ID    int    `json:"id"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *WorkItemRef) UnmarshalJSON(data []byte) error {
	type plain WorkItemRef
	var p plain
	extra, err := decodeOpen(data, "WorkItemRef", &p, "id")
	if err != nil {
		return err
	}
	*r = WorkItemRef(p)
	r.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r WorkItemRef) MarshalJSON() ([]byte, error) {
	type plain WorkItemRef
	return encodeOpen(plain(r), r.Extra)
}

// QueryResult is the response of a work item query.
type QueryResult struct {
	Extra     Extra         `json:"-"`
	WorkItems []WorkItemRef `json:"workItems"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *QueryResult) UnmarshalJSON(data []byte) error {
	type plain QueryResult
	var p plain
	extra, err := decodeOpen(data, "QueryResult", &p, "workItems")
	if err != nil {
		return err
	}
	*q = QueryResult(p)
	q.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (q QueryResult) MarshalJSON() ([]byte, error) {
	type plain QueryResult
	return encodeOpen(plain(q), q.Extra)
}

// Project is a team project.
type Project struct {
	Extra Extra  `json:"-"`
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Project) UnmarshalJSON(data []byte) error {
	type plain Project
	var v plain
	extra, err := decodeOpen(data, "Project", &v, "id")
	if err != nil {
		return err
	}
	*p = Project(v)
	p.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return encodeOpen(plain(p), p.Extra)
}

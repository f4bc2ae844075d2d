// Package model defines the core entities: WorkItem, DeveloperStory,
// DeveloperStoryDependency and ExecutionLog, along with the status
// enumerations and bounds described in spec §3.
package model

import "time"

// WorkItemType enumerates the two kinds of operator-submitted work.
type WorkItemType string

const (
	WorkItemTypeUserStory WorkItemType = "UserStory"
	WorkItemTypeBug       WorkItemType = "Bug"
)

// WorkItemStatus enumerates the WorkItem lifecycle states (spec §4.2).
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "Pending"
	WorkItemRefining   WorkItemStatus = "Refining"
	WorkItemRefined    WorkItemStatus = "Refined"
	WorkItemInProgress WorkItemStatus = "InProgress"
	WorkItemCompleted  WorkItemStatus = "Completed"
	WorkItemError      WorkItemStatus = "Error"
)

// StoryType enumerates the four developer-story kinds (spec §4.5/§6).
type StoryType int

const (
	StoryTypeImplementation StoryType = 0
	StoryTypeUnitTests      StoryType = 1
	StoryTypeFeatureTests   StoryType = 2
	StoryTypeDocumentation  StoryType = 3
)

// Valid reports whether st is one of the four known story-type codes.
func (st StoryType) Valid() bool {
	return st >= StoryTypeImplementation && st <= StoryTypeDocumentation
}

func (st StoryType) String() string {
	switch st {
	case StoryTypeImplementation:
		return "Implementation"
	case StoryTypeUnitTests:
		return "UnitTests"
	case StoryTypeFeatureTests:
		return "FeatureTests"
	case StoryTypeDocumentation:
		return "Documentation"
	default:
		return "Unknown"
	}
}

// DeveloperStoryStatus enumerates the DeveloperStory lifecycle states (spec §4.2).
type DeveloperStoryStatus string

const (
	StoryPending    DeveloperStoryStatus = "Pending"
	StoryBlocked    DeveloperStoryStatus = "Blocked"
	StoryReady      DeveloperStoryStatus = "Ready"
	StoryInProgress DeveloperStoryStatus = "InProgress"
	StoryCompleted  DeveloperStoryStatus = "Completed"
	StoryError      DeveloperStoryStatus = "Error"
)

// Bounds from spec §3.
const (
	MaxTitleLen              = 500
	MaxDescriptionLen        = 4000
	MinPriority               = 1
	MaxPriority               = 9
	DefaultDeveloperStoryPriority = 5
)

// WorkItem is an operator-submitted coarse-grained unit of work.
type WorkItem struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ID                 int64
	Type               WorkItemType
	Title              string
	Description        string
	AcceptanceCriteria string
	Status             WorkItemStatus
	ErrorMessage       string
	Priority           int
}

// DeveloperStory is a machine-actionable fine-grained task produced by the planner.
//
//nolint:govet // field grouping favors readability over alignment
type DeveloperStory struct {
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ID            int64
	WorkItemID    int64
	StoryType     StoryType
	Title         string
	Description   string
	Instructions  string
	Priority      int
	Status        DeveloperStoryStatus
	ErrorMessage  string
	SessionID     string
	TokensUsed    int64
	CostUSD       float64
}

// DeveloperStoryDependency is a directed "prerequisite" edge: DependentStoryID
// cannot start until RequiredStoryID is Completed.
type DeveloperStoryDependency struct {
	CreatedAt        time.Time
	DependentStoryID int64
	RequiredStoryID  int64
	Description      string
}

// ExecutionLogEventType enumerates ExecutionLog event kinds (spec §3).
type ExecutionLogEventType string

const (
	EventStarted          ExecutionLogEventType = "Started"
	EventCompleted        ExecutionLogEventType = "Completed"
	EventFailed           ExecutionLogEventType = "Failed"
	EventRetried          ExecutionLogEventType = "Retried"
	EventBranchCreated    ExecutionLogEventType = "BranchCreated"
	EventWorktreeCreated  ExecutionLogEventType = "WorktreeCreated"
	EventWorktreeRemoved  ExecutionLogEventType = "WorktreeRemoved"
	EventInfo             ExecutionLogEventType = "Info"
)

// ExecutionLog is an append-only audit record for a DeveloperStory.
type ExecutionLog struct {
	Timestamp        time.Time
	Metadata         map[string]any
	ID               int64
	DeveloperStoryID int64
	EventType        ExecutionLogEventType
	Details          string
	ErrorMessage     string
}

package types

import "time"

// DistributionRecord is the archived form of a DistributionLogEntry for DynamoDB
type DistributionRecord struct {
	CourseID   string `json:"courseId" dynamodbav:"CourseID"`     // partition key
	EntryKey   string `json:"entryKey" dynamodbav:"EntryKey"`     // sort key: RFC3339Nano#ID
	EntryID    string `json:"entryId" dynamodbav:"EntryID"`
	AgentID    string `json:"agentId" dynamodbav:"AgentID"`
	AssignedBy string `json:"assignedBy" dynamodbav:"AssignedBy"`
	Count      int    `json:"count" dynamodbav:"Count"`
	Method     string `json:"method" dynamodbav:"Method"`
	Note       string `json:"note,omitempty" dynamodbav:"Note,omitempty"`
	CreatedAt  string `json:"createdAt" dynamodbav:"CreatedAt"` // RFC3339
}

// NewDistributionRecord converts a log entry into its archive form
func NewDistributionRecord(e DistributionLogEntry) DistributionRecord {
	created := e.CreatedAt.UTC()
	return DistributionRecord{
		CourseID:   e.CourseID,
		EntryKey:   created.Format(time.RFC3339Nano) + "#" + e.ID,
		EntryID:    e.ID,
		AgentID:    e.AgentID,
		AssignedBy: e.AssignedBy,
		Count:      e.Count,
		Method:     string(e.Method),
		Note:       e.Note,
		CreatedAt:  created.Format(time.RFC3339),
	}
}

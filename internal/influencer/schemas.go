package influencer

import "encoding/json"

var workflowInput = json.RawMessage(`{
  "type": "object",
  "required": ["query", "resourceId", "threadId"],
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "resourceId": {"type": "string", "minLength": 1},
    "threadId": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`)

// agentOutput is what every agent-backed step hands to the next one.
var agentOutput = json.RawMessage(`{
  "type": "object",
  "required": ["agentResponse", "resourceId", "threadId"],
  "properties": {
    "agentResponse": {"type": "string"},
    "resourceId": {"type": "string"},
    "threadId": {"type": "string"}
  },
  "additionalProperties": false
}`)

// checkpointInput accepts a previous checkpoint output on loop re-entry.
var checkpointInput = json.RawMessage(`{
  "type": "object",
  "required": ["agentResponse", "resourceId", "threadId"],
  "properties": {
    "approved": {"type": "boolean"},
    "agentResponse": {"type": "string"},
    "resourceId": {"type": "string"},
    "threadId": {"type": "string"}
  },
  "additionalProperties": false
}`)

var checkpointOutput = json.RawMessage(`{
  "type": "object",
  "required": ["approved", "agentResponse", "resourceId", "threadId"],
  "properties": {
    "approved": {"type": "boolean"},
    "agentResponse": {"type": "string"},
    "resourceId": {"type": "string"},
    "threadId": {"type": "string"}
  },
  "additionalProperties": false
}`)

var suspendSchema = json.RawMessage(`{
  "type": "object",
  "required": ["suspendResponse"],
  "properties": {
    "suspendResponse": {"type": "string"}
  },
  "additionalProperties": false
}`)

var resumeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "userInput": {"type": "string"}
  },
  "additionalProperties": false
}`)

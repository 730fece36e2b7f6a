// Package policy parses the line-oriented ruleset file (§4.2) and answers
// capability-match queries for the connection dispatcher.
//
// Each non-blank, non-comment line is `<filter> <action>`. A filter
// selects by listen port, destination-domain suffix, destination CIDR, or
// "default". An action either accumulates a required capability set
// ("require"), or bypasses upstream selection entirely ("direct",
// "reject"), with a "!"-repeat priority (0 to 5 marks) breaking ties
// between conflicting direct/reject rules; equal-priority conflicts
// resolve as reject.
package policy

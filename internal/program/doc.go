// Package program stores agent program text on disk and resolves task
// payloads into program text.
//
// Storage writes each program to <dir>/<id><ext>. Writes go to a temporary
// file first; Commit renames it into place so the final name only appears
// once the agent is registered. Remove tolerates files that are already
// gone, and Orphans lists program files on disk that no registry tracks along
// with staging files older than StaleStageAge.
//
// A Task is the tagged payload accepted at the API boundary: either raw
// program text (KindCode) or a task description rendered through the agent
// template (KindDescribe).
package program

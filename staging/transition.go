/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package staging

// OutcomeKind tags what a completion report did to its target.
type OutcomeKind int

const (
	// Applied reports moved their target to STAGED or FAILED.
	Applied OutcomeKind = iota + 1
	// Stale reports carry a task id that a newer dispatch replaced.
	Stale
	// UnknownTarget reports name a record that no longer exists.
	UnknownTarget
	// Malformed reports are missing required keys.
	Malformed
	// Duplicate reports repeat a task id whose result was already applied.
	Duplicate
)

func (k OutcomeKind) String() string {
	switch k {
	case Applied:
		return "Applied"
	case Stale:
		return "Stale"
	case UnknownTarget:
		return "UnknownTarget"
	case Malformed:
		return "Malformed"
	case Duplicate:
		return "Duplicate"
	}
	return "None"
}

type Outcome struct {
	Kind OutcomeKind

	TaskID        string
	CurrentTaskID string
	// Failed is set on Applied outcomes of failure reports.
	Failed bool
}

// Record is the staging state of a target as last read from the store. A nil Record
// means the target does not exist.
type Record struct {
	TaskID    string
	Completed bool
}

// Transition decides what report does to a target in state current. A target with no
// outstanding task accepts nothing.
func Transition(report Report, current *Record) Outcome {
	outcome := Outcome{TaskID: report.TaskID}

	switch {
	case current == nil:
		outcome.Kind = UnknownTarget
		return outcome
	case current.TaskID == "" || current.TaskID != report.TaskID:
		outcome.Kind = Stale
	case current.Completed:
		outcome.Kind = Duplicate
	default:
		outcome.Kind = Applied
		outcome.Failed = report.Failure != nil
	}

	outcome.CurrentTaskID = current.TaskID
	return outcome
}

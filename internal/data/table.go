package data

import (
	"encoding/json"
	"fmt"

	"conductor/internal/core"
	"conductor/internal/suite"
)

// Title renders a row the way it is appended to scenario titles.
func Title(r Row) string {
	b, err := json.Marshal(r) // keys are sorted
	if err != nil {
		return fmt.Sprint(r)
	}
	return string(b)
}

// Inject exposes the row's columns as "data.<column>" variables.
func Inject(r Row, vars core.Variables) {
	for k, v := range r {
		vars.Set("data."+k, v)
	}
}

// Scenarios adds one test per row to s. Each test is titled
// "title | {row}" and carries the row as its Data, which the runner injects
// into fn as a map[string]any parameter.
func Scenarios(s *suite.Suite, title string, rows []Row, fn any) []*suite.Test {
	tests := make([]*suite.Test, 0, len(rows))
	for _, row := range rows {
		// tags come from the title alone, not from row values such as emails
		t := suite.NewTest(title, fn)
		t.Title = title + " | " + Title(row)
		t.Data = cloneRow(row)
		s.Add(t)
		tests = append(tests, t)
	}
	return tests
}

package conformance

// TestSuite represents a complete YAML test file
type TestSuite struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Limits      Limits     `yaml:"limits,omitempty"`
	Tests       []TestCase `yaml:"tests"`
}

// Limits overrides the runner's VM options for every test in a suite.
type Limits struct {
	MaxFrames int   `yaml:"max_frames,omitempty"`
	MaxSteps  int64 `yaml:"max_steps,omitempty"`
}

// TestCase represents a single test within a suite
type TestCase struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Skip        interface{} `yaml:"skip,omitempty"` // bool or string
	Source      string      `yaml:"source"`
	Expect      Expectation `yaml:"expect"`
}

// Expectation defines what result is expected from a test.
//
// Stack entries are matched by type: integers against Int values, booleans
// against Bool values, null against Nil and strings against the rendered
// value (for functions, e.g. "<func f/1>"). A nil Stack is not checked;
// "stack: []" requires an empty stack.
type Expectation struct {
	Stack *[]interface{} `yaml:"stack,omitempty"`
	Error string         `yaml:"error,omitempty"` // fault kind, e.g. division_by_zero
	Stage string         `yaml:"stage,omitempty"` // parse, compile or run
}

// IsSkipped returns true if this test should be skipped
func (tc *TestCase) IsSkipped() (bool, string) {
	switch v := tc.Skip.(type) {
	case bool:
		if v {
			return true, "skipped"
		}
	case string:
		return true, v
	}
	return false, ""
}

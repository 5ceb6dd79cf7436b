package coverage

import "encoding/json"

// Range is a hit range expressed as byte offsets into instrumented code.
type Range struct {
	StartOffset int `json:"startOffset" mapstructure:"startOffset"`
	EndOffset   int `json:"endOffset" mapstructure:"endOffset"`
	Count       int `json:"count" mapstructure:"count"`
}

// FunctionCoverage is the coverage reported for one instrumented function.
type FunctionCoverage struct {
	FunctionName    string  `json:"functionName" mapstructure:"functionName"`
	IsBlockCoverage bool    `json:"isBlockCoverage" mapstructure:"isBlockCoverage"`
	Ranges          []Range `json:"ranges" mapstructure:"ranges"`
}

// TransformResult describes the instrumented text a script's offsets refer to.
type TransformResult struct {
	Code          string `json:"code" mapstructure:"code"`
	SourceMapPath string `json:"sourceMapPath" mapstructure:"sourceMapPath"`

	// WrapperLength is the number of bytes of synthetic harness code
	// prepended before the real module body.
	WrapperLength int `json:"wrapperLength,omitempty" mapstructure:"wrapperLength"`
}

// Script is the raw coverage for one instrumented script.
type Script struct {
	URL       string             `json:"url" mapstructure:"url"`
	Functions []FunctionCoverage `json:"functions" mapstructure:"functions"`
	Transform *TransformResult   `json:"codeTransformResult,omitempty" mapstructure:"codeTransformResult"`
}

// LineRange is a (startLine, endLine, hits) triple in original source lines.
// It serializes as a three element JSON array.
type LineRange [3]int

// NewLineRange returns a LineRange.
func NewLineRange(start, end, hits int) LineRange {
	return LineRange{start, end, hits}
}

// Start is the first original line of the range.
func (r LineRange) Start() int { return r[0] }

// End is the last original line of the range.
func (r LineRange) End() int { return r[1] }

// Hits is the execution count of the range.
func (r LineRange) Hits() int { return r[2] }

// ScriptRanges is the shrunk coverage of one original file.
type ScriptRanges struct {
	BlockRanges []LineRange `json:"blockRanges"`
	FuncRanges  []LineRange `json:"funcRanges"`
}

// NewScriptRanges returns a ScriptRanges with empty, non-nil range lists.
func NewScriptRanges() *ScriptRanges {
	return &ScriptRanges{
		BlockRanges: []LineRange{},
		FuncRanges:  []LineRange{},
	}
}

// MarshalJSON always emits arrays, never null, for the range lists.
func (s ScriptRanges) MarshalJSON() ([]byte, error) {
	type plain ScriptRanges

	out := plain(s)
	if out.BlockRanges == nil {
		out.BlockRanges = []LineRange{}
	}

	if out.FuncRanges == nil {
		out.FuncRanges = []LineRange{}
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes missing or null range lists as empty lists.
func (s *ScriptRanges) UnmarshalJSON(data []byte) error {
	type plain ScriptRanges

	var in plain
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	if in.BlockRanges == nil {
		in.BlockRanges = []LineRange{}
	}

	if in.FuncRanges == nil {
		in.FuncRanges = []LineRange{}
	}

	*s = ScriptRanges(in)

	return nil
}

// ShrunkCoverage maps a project-relative file path to its shrunk ranges.
type ShrunkCoverage map[string]*ScriptRanges

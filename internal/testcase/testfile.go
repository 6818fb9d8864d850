package testcase

// TestFile is one file materialized as part of a test case.
//
// FileName is relative to the dump root and may contain subdirectories.
// Required=false marks ancillary resources a consumer may omit without
// breaking the test case.
type TestFile struct {
	FileName string
	Data     []byte
	Required bool
}

// NewTestFile returns a required test file.
func NewTestFile(name string, data []byte) TestFile {
	return TestFile{FileName: name, Data: data, Required: true}
}

// NewOptionalTestFile returns a test file that consumers may omit.
func NewOptionalTestFile(name string, data []byte) TestFile {
	return TestFile{FileName: name, Data: data, Required: false}
}

package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_SpreadsheetByExtension(t *testing.T) {
	for _, name := range []string{"statement.csv", "statement.CSV", "export.xlsx", "export.tsv"} {
		res, err := Classify([]byte("anything"), name)
		require.NoError(t, err)
		assert.Equal(t, KindSpreadsheet, res.Kind)
	}
}

func TestClassify_ImageByExtension(t *testing.T) {
	for _, name := range []string{"scan.png", "scan.JPG", "scan.tiff"} {
		res, err := Classify([]byte("anything"), name)
		require.NoError(t, err)
		assert.Equal(t, KindImage, res.Kind)
	}
}

func TestClassify_UnknownExtensionIsRejected(t *testing.T) {
	_, err := Classify([]byte("anything"), "notes.docx")
	require.Error(t, err)
	var extErr *Error
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, ErrInputRejected, extErr.Code)
}

func TestClassify_MalformedPDFIsRejected(t *testing.T) {
	_, err := Classify([]byte("not a real pdf"), "statement.pdf")
	require.Error(t, err)
	var extErr *Error
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, ErrInputRejected, extErr.Code)
}

func TestIsPasswordProtected(t *testing.T) {
	assert.True(t, isPasswordProtected(errors.New("pdf: incorrect password")))
	assert.True(t, isPasswordProtected(errors.New("document is encrypted")))
	assert.False(t, isPasswordProtected(errors.New("unexpected EOF")))
}

package fetcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestStreamXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"full_adres", "price"},
			{"Damrak 1", "1250"},
			{"Rokin 2", "1400"},
		},
	})

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{HasHeader: true, HeaderCh: headerCh})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Damrak 1", "1250"}, rows[0])
	assert.Equal(t, []string{"full_adres", "price"}, <-headerCh)
}

func TestStreamXLSX_NoHeader(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"a", "b"}, {"", ""}, {"c", "d"}},
	})

	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, rows)
}

func TestStreamXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"First":  {{"a", "b"}},
		"Second": {{"x", "y"}, {"1", "2"}},
	})

	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{SheetName: "Second", HasHeader: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, rows)
}

func TestStreamXLSX_SheetErrors(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{SheetName: "Missing"})
	_, err := collectRows(t, rowCh, errCh)
	assert.ErrorContains(t, err, "not found")

	rowCh, errCh = StreamXLSX(context.Background(), path, XLSXOptions{SheetIndex: 3})
	_, err = collectRows(t, rowCh, errCh)
	assert.ErrorContains(t, err, "out of range")
}

func TestStreamXLSX_OpenError(t *testing.T) {
	rowCh, errCh := StreamXLSX(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"), XLSXOptions{})
	_, err := collectRows(t, rowCh, errCh)
	assert.ErrorContains(t, err, "xlsx: open file")
}

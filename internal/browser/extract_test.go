package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listPage = `<html><body><table>
<tr class="mat-mdc-row">
  <td class="cdk-column-reference"><a href="/supplier/supplierrequest/101">CE-101</a></td>
  <td class="cdk-column-title">  Senior   Go Developer </td>
  <td class="cdk-column-customer">Acme</td>
</tr>
<tr class="mat-mdc-row">
  <td class="cdk-column-reference"><a href="/supplier/supplierrequest/102">CE-102</a></td>
  <td class="cdk-column-title">Data Engineer</td>
</tr>
</table></body></html>`

func TestExtractHTML_Rows(t *testing.T) {
	rows, err := ExtractHTML(listPage, Spec{
		Container: "tr.mat-mdc-row",
		Fields: map[string]Field{
			"title":  {Selector: "td.cdk-column-title"},
			"link":   {Selector: "td.cdk-column-reference a", Attr: "href"},
			"client": {Selector: "td.cdk-column-customer"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Senior Go Developer", rows[0]["title"])
	assert.Equal(t, "/supplier/supplierrequest/101", rows[0]["link"])
	assert.Equal(t, "Acme", rows[0]["client"])
	assert.Equal(t, "", rows[1]["client"], "missing field is empty")
}

func TestExtractHTML_ContainerAttr(t *testing.T) {
	html := `<div><span class="color-text-link" data-cy="job-post-name-link-abc">Go Dev</span></div>`
	rows, err := ExtractHTML(html, Spec{
		Container: "span.color-text-link",
		Fields: map[string]Field{
			"title": {},
			"cy":    {Attr: "data-cy"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Go Dev", rows[0]["title"])
	assert.Equal(t, "job-post-name-link-abc", rows[0]["cy"])
}

func TestExtractHTML_NoMatches(t *testing.T) {
	rows, err := ExtractHTML("<html></html>", Spec{Container: "tr"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExtractText(t *testing.T) {
	html := `<ce-list-detail-supplier-skill>Go</ce-list-detail-supplier-skill>
<ce-list-detail-supplier-skill>  Kubernetes
</ce-list-detail-supplier-skill>`
	got, err := ExtractText(html, "ce-list-detail-supplier-skill")
	require.NoError(t, err)
	assert.Equal(t, "Go\nKubernetes", got)
}

func TestIsXPath(t *testing.T) {
	assert.True(t, IsXPath("//button[contains(., 'Continue')]"))
	assert.False(t, IsXPath("#username"))
	assert.False(t, IsXPath("button.menu-user"))
}

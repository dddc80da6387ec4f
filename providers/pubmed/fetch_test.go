package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const efetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>123</PMID>
      <Article>
        <ArticleTitle>Shared trial</ArticleTitle>
        <Journal><JournalIssue><PubDate><Year>2023</Year><Month>Mar</Month><Day>7</Day></PubDate></JournalIssue></Journal>
        <AuthorList>
          <Author><LastName>Doe</LastName><Initials>J</Initials><Identifier Source="ORCID">https://orcid.org/0000-0001</Identifier></Author>
          <Author><LastName>Roe</LastName><Initials>R</Initials></Author>
        </AuthorList>
        <ELocationID EIdType="doi" ValidYN="Y">10.5/x</ELocationID>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func TestWorksByAuthor(t *testing.T) {
	var searchTerm, fetchIDs, apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/esearch.fcgi"):
			searchTerm = r.URL.Query().Get("term")
			apiKey = r.URL.Query().Get("api_key")
			_, _ = w.Write([]byte(`{"esearchresult": {"count": "1", "idlist": ["123"]}}`))
		case strings.HasSuffix(r.URL.Path, "/efetch.fcgi"):
			fetchIDs = r.URL.Query().Get("id")
			_, _ = w.Write([]byte(efetchXML))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(Options{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), zap.NewNop())
	works, err := f.WorksByAuthor(context.Background(), "0000-0001", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "0000-0001[auid]", searchTerm)
	assert.Equal(t, "k", apiKey)
	assert.Equal(t, "123", fetchIDs)
	require.Len(t, works, 1)
	w := works[0]
	assert.Equal(t, "10.5/x", w.DOI)
	require.NotNil(t, w.PublishedAt)
	assert.Equal(t, time.Date(2023, 3, 7, 0, 0, 0, 0, time.UTC), *w.PublishedAt)
	require.Len(t, w.Authors, 2)
	assert.Equal(t, "0000-0001", w.Authors[0].ORCID)
}

func TestWorksByAuthor_NoHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"esearchresult": {"count": "0", "idlist": []}}`))
	}))
	defer srv.Close()

	f := NewFetcher(Options{BaseURL: srv.URL}, srv.Client(), zap.NewNop())
	works, err := f.WorksByAuthor(context.Background(), "0000-0009", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, works)
}

package wikipedia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-graph/internal/resilience"
)

func TestQuery_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/en/w/api.php", r.URL.Path)
		assert.Equal(t, "query", q.Get("action"))
		assert.Equal(t, "albert einstein", q.Get("titles"))
		assert.Equal(t, "1", q.Get("redirects"))
		assert.Equal(t, "extracts|pageprops|info", q.Get("prop"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{
			"redirects":[{"from":"albert einstein","to":"Albert Einstein"}],
			"pages":[{"pageid":736,"ns":0,"title":"Albert Einstein",
				"extract":"Albert Einstein was a German-born theoretical physicist.",
				"fullurl":"https://en.wikipedia.org/wiki/Albert_Einstein",
				"pageprops":{"wikibase_item":"Q937"}}]}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/{lang}/w/api.php"), WithUserAgent("test-agent"))
	page, err := c.Query(context.Background(), "en", "albert einstein")

	require.NoError(t, err)
	assert.False(t, page.Missing)
	assert.Equal(t, int64(736), page.PageID)
	assert.Equal(t, "Albert Einstein", page.Title)
	assert.Equal(t, "Q937", page.WikidataItem)
	assert.Equal(t, "albert einstein", page.RedirectedFrom)
	assert.Contains(t, page.Extract, "theoretical physicist")
	assert.False(t, page.Disambiguation)
}

func TestQuery_Missing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"pages":[{"ns":0,"title":"Xyzzy Corp","missing":true}]}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	page, err := c.Query(context.Background(), "en", "Xyzzy Corp")

	require.NoError(t, err)
	assert.True(t, page.Missing)
}

func TestQuery_Disambiguation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"pages":[{"pageid":1,"title":"Mercury","pageprops":{"disambiguation":""}}]}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	page, err := c.Query(context.Background(), "en", "Mercury")

	require.NoError(t, err)
	assert.True(t, page.Disambiguation)
}

func TestQuery_TooManyRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Query(context.Background(), "en", "Einstein")

	require.Error(t, err)
	assert.True(t, resilience.IsThrottled(err))
}

func TestQuery_MaxlagIsThrottled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":"maxlag","info":"Waiting for replicas"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Query(context.Background(), "en", "Einstein")

	require.Error(t, err)
	assert.True(t, resilience.IsThrottled(err))
}

func TestQuery_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Query(context.Background(), "en", "Einstein")

	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
	assert.False(t, resilience.IsThrottled(err))
	assert.Contains(t, err.Error(), "502")
}

func TestOpenSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "opensearch", q.Get("action"))
		assert.Equal(t, "einstien", q.Get("search"))
		assert.Equal(t, "3", q.Get("limit"))
		w.Write([]byte(`["einstien",["Albert Einstein","Einstein family"],["",""],["u1","u2"]]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	titles, err := c.OpenSearch(context.Background(), "en", "einstien", 3)

	require.NoError(t, err)
	assert.Equal(t, []string{"Albert Einstein", "Einstein family"}, titles)
}

func TestOpenSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["qqq",[],[],[]]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	titles, err := c.OpenSearch(context.Background(), "en", "qqq", 0)

	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestLangLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/de/api", r.URL.Path)
		assert.Equal(t, "en", r.URL.Query().Get("lllang"))
		w.Write([]byte(`{"query":{"pages":[{"pageid":5,"title":"Albert Einstein",
			"langlinks":[{"lang":"en","title":"Albert Einstein"}]}]}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL + "/{lang}/api"))
	title, err := c.LangLinks(context.Background(), "de", "Albert Einstein", "en")

	require.NoError(t, err)
	assert.Equal(t, "Albert Einstein", title)
}

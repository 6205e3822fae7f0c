package fetcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello", ExtractText([]byte("  hello \n"), "text/plain"))
	require.Empty(t, ExtractText(nil, "text/html"))
	require.Equal(t, "a\nb", ExtractText([]byte("<div>a</div><div>b</div>"), ""))
	require.Equal(t, "y", ExtractText([]byte("<body><noscript>x</noscript>y</body>"), "text/html"))
	require.Equal(t, "Marie Curie\nPhysicist",
		ExtractText([]byte("<h1>Marie\n  Curie</h1><script>x()</script><p>Physicist</p>"), "text/html; charset=utf-8"))
}

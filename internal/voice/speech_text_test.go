package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  Hello there.  ", want: "Hello there."},
		{name: "emoji and emphasis", in: "Sure \U0001F60A **let's** do this / now.", want: "Sure let's do this now."},
		{name: "link label kept", in: "Read [the docs](https://example.com/docs) first.", want: "Read the docs first."},
		{name: "bare url", in: "See https://example.com/x?y=1 for more", want: "See for more"},
		{name: "code removed", in: "```bash\nnpm run dev\n```\nThen run `make test` ✅", want: "Then run"},
		{name: "symbol runs", in: "Hello***world///again", want: "Hello world again"},
		{name: "percent kept", in: "About 50% done", want: "About 50% done"},
		{name: "nothing speakable", in: " `x` ", want: "`x`"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SpeakableText(tc.in))
		})
	}
}

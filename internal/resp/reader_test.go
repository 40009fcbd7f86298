package resp_test

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazandb/kazandb/internal/resp"
)

func decodeString(t *testing.T, input string) (resp.Value, error) {
	t.Helper()
	return resp.NewDecoder(strings.NewReader(input)).Read()
}

func TestReadInt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr error
	}{
		{
			name:  "Valid positive",
			input: ":1000\r\n",
			want:  1000,
		},
		{
			name:  "Valid positive with +",
			input: ":+1230\r\n",
			want:  1230,
		},
		{
			name:  "Valid negative",
			input: ":-15\r\n",
			want:  -15,
		},
		{
			name:  "Valid zero",
			input: ":0\r\n",
			want:  0,
		},
		{
			name:  "One",
			input: ":1\r\n",
			want:  1,
		},
		{
			name:  "Minus one",
			input: ":-1\r\n",
			want:  -1,
		},
		{
			name:    "Invalid ending",
			input:   ":1000\n",
			wantErr: resp.ErrInvalidEnding,
		},
		{
			name:    "Not a number",
			input:   ":abc\r\n",
			wantErr: resp.ErrProtocol,
		},
		{
			name:    "Empty",
			input:   ":\r\n",
			wantErr: resp.ErrProtocol,
		},
		{
			name:    "Overflow",
			input:   ":9223372036854775808\r\n",
			wantErr: resp.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := decodeString(t, tt.input)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Read() expected error %v, got %v", tt.wantErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Read() unexpected error %v", err)
			}

			if val.Type != resp.TypeInteger {
				t.Errorf("Read() type = %q, want %q", val.Type, resp.TypeInteger)
			}

			if val.Integer != tt.want {
				t.Errorf("Read() num = %v, want %v", val.Integer, tt.want)
			}
		})
	}
}

func TestRead(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  resp.Value
	}{
		{"Simple string", "+OK\r\n", resp.MakeSimpleString("OK")},
		{"Simple string with spaces", "+hello world\r\n", resp.MakeSimpleString("hello world")},
		{"Empty simple string", "+\r\n", resp.MakeSimpleString("")},
		{"Null bulk string", "$-1\r\n", resp.MakeNilBulkString()},
		{"Bulk string", "$6\r\nfoobar\r\n", resp.MakeBulkString("foobar")},
		{"Empty bulk string", "$0\r\n\r\n", resp.MakeBulkString("")},
		{"Binary bulk string", "$4\r\na\r\nb\r\n", resp.MakeBulkString("a\r\nb")},
		{"Null array", "*-1\r\n", resp.MakeNilArray()},
		{"Empty array", "*0\r\n", resp.MakeArray([]resp.Value{})},
		{"Array of one", "*1\r\n$4\r\nping\r\n", resp.MakeCommand("ping")},
		{"Echo", "*2\r\n$4\r\necho\r\n$11\r\nhello world\r\n", resp.MakeCommand("echo", "hello world")},
		{"Get", "*2\r\n$3\r\nget\r\n$3\r\nkey\r\n", resp.MakeCommand("get", "key")},
		{"Set", "*3\r\n$3\r\nset\r\n$3\r\nkey\r\n$5\r\nvalue\r\n", resp.MakeCommand("set", "key", "value")},
		{
			"Mixed types",
			"*2\r\n$4\r\nping\r\n:1\r\n",
			resp.MakeArray([]resp.Value{resp.MakeBulkString("ping"), resp.MakeInteger(1)}),
		},
		{
			"Nested",
			"*3\r\n*2\r\n:1\r\n+two\r\n*-1\r\n$-1\r\n",
			resp.MakeArray([]resp.Value{
				resp.MakeArray([]resp.Value{resp.MakeInteger(1), resp.MakeSimpleString("two")}),
				resp.MakeNilArray(),
				resp.MakeNilBulkString(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeString(t, tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %#v, want %#v", got, tt.want)
		})
	}
}

func TestRead_NullDistinctness(t *testing.T) {
	nullBulk, err := decodeString(t, "$-1\r\n")
	require.NoError(t, err)
	emptyBulk, err := decodeString(t, "$0\r\n\r\n")
	require.NoError(t, err)

	assert.True(t, nullBulk.IsNullBulkString())
	assert.False(t, emptyBulk.IsNull)
	assert.NotNil(t, emptyBulk.String)
	assert.False(t, nullBulk.Equal(emptyBulk))

	nullArr, err := decodeString(t, "*-1\r\n")
	require.NoError(t, err)
	emptyArr, err := decodeString(t, "*0\r\n")
	require.NoError(t, err)

	assert.True(t, nullArr.IsNullArray())
	assert.False(t, emptyArr.IsNull)
	assert.NotNil(t, emptyArr.Array)
	assert.Empty(t, emptyArr.Array)
	assert.False(t, nullArr.Equal(emptyArr))

	assert.False(t, nullBulk.Equal(nullArr))
}

func TestRead_RemoteError(t *testing.T) {
	val, err := decodeString(t, "-Error message\r\n")

	var re *resp.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Error message", re.Message)
	assert.True(t, resp.IsRemoteError(err))
	assert.False(t, errors.Is(err, resp.ErrProtocol))
	assert.Zero(t, val.Type)
}

func TestRead_RemoteErrorInsideArray(t *testing.T) {
	_, err := decodeString(t, "*2\r\n:1\r\n-WRONGTYPE bad\r\n")

	var re *resp.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "WRONGTYPE bad", re.Message)
}

func TestRead_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Unknown tag", "!2\r\n$4\r\nping\r\n$11\r\nhello world\r\n"},
		{"Truncated array", "*2\r\n$4\r\nping\r\n"},
		{"Truncated bulk", "$10\r\nping\r\n"},
		{"Truncated header", "$4"},
		{"Truncated simple string", "+OK"},
		{"Missing element type", "*1\r\n"},
		{"Bulk without terminator", "$4\r\npingXX"},
		{"Bulk length not numeric", "$abc\r\nping\r\n"},
		{"Bulk length below -1", "$-2\r\n"},
		{"Array length not numeric", "*x\r\n"},
		{"Array length below -1", "*-5\r\n"},
		{"Header without CR", "+OK\n"},
		{"Nested unknown tag", "*1\r\n?\r\n"},
		{"Bulk length with plus sign", "$+3\r\nabc\r\n"},
		{"Bulk length negative zero", "$-0\r\n\r\n"},
		{"Bulk length empty", "$\r\n"},
		{"Bulk length with spaces", "$ 3\r\nabc\r\n"},
		{"Array length with plus sign", "*+1\r\n:1\r\n"},
		{"Array length negative zero", "*-0\r\n"},
		{"Null marker with plus", "$+1\r\n"},
		{"Simple string with CR", "+a\rb\r\n"},
		{"Error with CR", "-ERR a\rb\r\n"},
		{"Nested simple string with CR", "*1\r\n+a\rb\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := decodeString(t, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, resp.ErrProtocol)
			assert.False(t, resp.IsRemoteError(err))
			assert.Zero(t, val.Type, "no partial value may be returned")
		})
	}
}

func TestRead_UnknownType(t *testing.T) {
	_, err := decodeString(t, "!2\r\n")
	assert.ErrorIs(t, err, resp.ErrUnknownType)
	assert.Contains(t, err.Error(), "unknown response type")
}

func TestRead_TruncatedIsUnexpectedEOF(t *testing.T) {
	_, err := decodeString(t, "*2\r\n$4\r\nping\r\n")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRead_CleanEOF(t *testing.T) {
	d := resp.NewDecoder(strings.NewReader("+OK\r\n"))

	val, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(val.String))

	_, err = d.Read()
	assert.Equal(t, io.EOF, err)
}

func TestRead_Sequence(t *testing.T) {
	d := resp.NewDecoder(strings.NewReader("*1\r\n$4\r\nping\r\n:7\r\n$-1\r\n"))

	first, err := d.Read()
	require.NoError(t, err)
	assert.True(t, resp.MakeCommand("ping").Equal(first))

	second, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(7), second.Integer)

	third, err := d.Read()
	require.NoError(t, err)
	assert.True(t, third.IsNullBulkString())

	assert.Zero(t, d.Buffered())
}

func TestRead_SlowReaders(t *testing.T) {
	const input = "*3\r\n$3\r\nset\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"
	want := resp.MakeCommand("set", "key", "value")

	readers := map[string]func() io.Reader{
		"OneByteReader": func() io.Reader { return iotest.OneByteReader(strings.NewReader(input)) },
		"HalfReader":    func() io.Reader { return iotest.HalfReader(strings.NewReader(input)) },
		"DataErrReader": func() io.Reader { return iotest.DataErrReader(strings.NewReader(input)) },
	}

	for name, newReader := range readers {
		t.Run(name, func(t *testing.T) {
			got, err := resp.NewDecoder(newReader()).Read()
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
		})
	}
}

func TestRead_StreamFailure(t *testing.T) {
	_, err := resp.NewDecoder(iotest.ErrReader(io.ErrClosedPipe)).Read()
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotErrorIs(t, err, resp.ErrProtocol)

	r := io.MultiReader(strings.NewReader("*2\r\n:1\r\n"), iotest.ErrReader(io.ErrClosedPipe))
	_, err = resp.NewDecoder(r).Read()
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRead_ReusesBufioReader(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(":1\r\n:2\r\n"))

	first, err := resp.NewDecoder(br).Read()
	require.NoError(t, err)
	second, err := resp.NewDecoder(br).Read()
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Integer)
	assert.Equal(t, int64(2), second.Integer)
}

func TestRead_Limits(t *testing.T) {
	limits := resp.Limits{
		MaxBulkLen:  8,
		MaxArrayLen: 2,
		MaxDepth:    2,
		MaxLineLen:  16,
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Bulk at limit", "$8\r\n12345678\r\n", false},
		{"Bulk over limit", "$9\r\n123456789\r\n", true},
		{"Huge bulk declared", "$999999999999\r\n", true},
		{"Array at limit", "*2\r\n:1\r\n:2\r\n", false},
		{"Array over limit", "*3\r\n:1\r\n:2\r\n:3\r\n", true},
		{"Huge array declared", "*2147483647\r\n", true},
		{"Depth at limit", "*1\r\n*1\r\n:1\r\n", false},
		{"Depth over limit", "*1\r\n*1\r\n*1\r\n:1\r\n", true},
		{"Line at limit", "+" + strings.Repeat("a", 16) + "\r\n", false},
		{"Line over limit", "+" + strings.Repeat("a", 17) + "\r\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resp.NewDecoder(strings.NewReader(tt.input), resp.WithLimits(limits)).Read()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, resp.ErrLimitExceeded)
			assert.ErrorIs(t, err, resp.ErrProtocol)
		})
	}
}

func TestRead_LongLineAcrossBuffer(t *testing.T) {
	long := strings.Repeat("x", 10000)
	got, err := decodeString(t, "+"+long+"\r\n")
	require.NoError(t, err)
	assert.Equal(t, long, string(got.String))
}

func TestRead_LargeBulk(t *testing.T) {
	payload := strings.Repeat("0123456789", 20000)
	got, err := decodeString(t, "$200000\r\n"+payload+"\r\n")
	require.NoError(t, err)
	assert.Equal(t, payload, string(got.String))
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte("+OK\r\n"))
	f.Add([]byte("-Error message\r\n"))
	f.Add([]byte(":-1\r\n"))
	f.Add([]byte("$6\r\nfoobar\r\n"))
	f.Add([]byte("*2\r\n$4\r\nping\r\n:1\r\n"))
	f.Add([]byte("*-1\r\n"))
	f.Add([]byte("*1\r\n*1\r\n*1\r\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		val, err := resp.NewDecoder(strings.NewReader(string(data))).Read()
		if err != nil {
			return
		}

		encoded, err := resp.Encode(val)
		if err != nil {
			// simple strings may legally hold a lone CR that the encoder refuses
			return
		}

		again, err := resp.NewDecoder(strings.NewReader(string(encoded))).Read()
		if err != nil {
			t.Fatalf("re-decode of %q failed: %v", encoded, err)
		}
		if !val.Equal(again) {
			t.Fatalf("round trip mismatch: %#v != %#v", val, again)
		}
	})
}

func TestRead_TypeTagsMatchField(t *testing.T) {
	tests := []struct {
		input string
		want  byte
	}{
		{"+OK\r\n", resp.TypeSimpleString},
		{":1\r\n", resp.TypeInteger},
		{"$1\r\na\r\n", resp.TypeBulkString},
		{"*0\r\n", resp.TypeArray},
	}

	for _, tt := range tests {
		val, err := decodeString(t, tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.want, val.Type)
	}
	assert.Equal(t, resp.TypeError, resp.MakeError("ERR x").Type)
}

package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcaugment/pkg/contract"
)

// UT-REG-01: 严格解码。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	require.NoError(t, strictUnmarshal(nil, &o))
	assert.Zero(t, o.A)
	require.NoError(t, strictUnmarshal(json.RawMessage(`{"a":1}`), &o))
	assert.Equal(t, 1, o.A)
	assert.ErrorIs(t, strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o), contract.ErrInvalidInput, "未知字段应报错")
}

// UT-REG-02: 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		_, err := Reader["fs"](json.RawMessage(`{}`))
		require.NoError(t, err)
		_, err = Reader["fs"](json.RawMessage(`{"x":1}`))
		assert.Error(t, err, "reader 未对未知字段报错")
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		_, err := Writer["fs"](json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, tmp)))
		require.NoError(t, err)
		_, err = Writer["fs"](json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp)))
		assert.Error(t, err, "writer 未对未知字段报错")
	})
	t.Run("generators", func(t *testing.T) {
		for _, name := range []string{"mock", "flaky"} {
			g, err := Generator[name](json.RawMessage(`{}`))
			require.NoError(t, err, name)
			assert.NotNil(t, g)
			_, err = Generator[name](json.RawMessage(`{"bogus":true}`))
			assert.ErrorIs(t, err, contract.ErrInvalidInput, name)
		}
		_, err := Generator["report"](json.RawMessage(`{}`))
		assert.ErrorIs(t, err, contract.ErrInvalidInput, "report 缺少 url")
		_, err = Generator["openai"](json.RawMessage(`{"api_key_env":"BCAUG_TEST_NO_SUCH_KEY"}`))
		assert.ErrorIs(t, err, contract.ErrInvalidInput, "openai 缺少 key")
	})
}

package ethcall_test

import (
	"math"
	"math/big"
	"testing"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethsim/ethcall"
	"github.com/0xsequence/ethsim/ethexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentDefaults(t *testing.T) {
	args := ethcall.CallArgs{}
	intent, err := args.Intent()
	require.NoError(t, err)

	assert.Equal(t, common.Address{}, intent.Caller)
	assert.Nil(t, intent.To)
	assert.Nil(t, intent.Value)
	assert.Nil(t, intent.GasPrice)
	assert.Nil(t, intent.Nonce)
	assert.Equal(t, ethexec.DefaultGasLimit, intent.GasLimit)
	assert.Empty(t, intent.Data)
}

func TestIntentInputWinsOverData(t *testing.T) {
	input := hexutil.Bytes{0x01, 0x02}
	data := hexutil.Bytes{0x01, 0x02}

	args := ethcall.CallArgs{Input: &input, Data: &data}
	intent, err := args.Intent()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, intent.Data)

	// data alone still works
	args = ethcall.CallArgs{Data: &data}
	intent, err = args.Intent()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, intent.Data)
}

func TestIntentRejectsConflictingPayloads(t *testing.T) {
	input := hexutil.Bytes{0x01}
	data := hexutil.Bytes{0x02}

	args := ethcall.CallArgs{Input: &input, Data: &data}
	_, err := args.Intent()
	require.Error(t, err)
	assert.ErrorContains(t, err, `"data" and "input"`)
}

func TestIntentGasClamping(t *testing.T) {
	// a gas value beyond uint64 clamps instead of failing
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	args := ethcall.CallArgs{Gas: (*hexutil.Big)(huge)}
	intent, err := args.Intent()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), intent.GasLimit)

	args = ethcall.CallArgs{Gas: (*hexutil.Big)(big.NewInt(100_000))}
	intent, err = args.Intent()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), intent.GasLimit)

	args = ethcall.CallArgs{Gas: (*hexutil.Big)(big.NewInt(-1))}
	_, err = args.Intent()
	require.Error(t, err)
}

func TestIntentExplicitFields(t *testing.T) {
	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")
	nonce := hexutil.Uint64(7)

	args := ethcall.CallArgs{
		From:     &from,
		To:       &to,
		Value:    (*hexutil.Big)(big.NewInt(123)),
		GasPrice: (*hexutil.Big)(big.NewInt(456)),
		Nonce:    &nonce,
	}
	intent, err := args.Intent()
	require.NoError(t, err)

	assert.Equal(t, from, intent.Caller)
	assert.Equal(t, to, *intent.To)
	assert.Equal(t, int64(123), intent.Value.Int64())
	assert.Equal(t, int64(456), intent.GasPrice.Int64())
	require.NotNil(t, intent.Nonce)
	assert.Equal(t, uint64(7), *intent.Nonce)
}

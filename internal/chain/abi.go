package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	poolABIJSON = `[{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserAccountData","outputs":[{"internalType":"uint256","name":"totalCollateralBase","type":"uint256"},{"internalType":"uint256","name":"totalDebtBase","type":"uint256"},{"internalType":"uint256","name":"availableBorrowsBase","type":"uint256"},{"internalType":"uint256","name":"currentLiquidationThreshold","type":"uint256"},{"internalType":"uint256","name":"ltv","type":"uint256"},{"internalType":"uint256","name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	oracleABIJSON = `[{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getAssetPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	liquidatorABIJSON = `[{"inputs":[{"internalType":"address","name":"debtAsset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"collateralAsset","type":"address"},{"internalType":"address","name":"user","type":"address"}],"name":"requestFlashLoan","outputs":[],"stateMutability":"nonpayable","type":"function"}]`
)

var (
	poolABI       abi.ABI
	oracleABI     abi.ABI
	liquidatorABI abi.ABI
)

func init() {
	poolABI = mustABI(poolABIJSON)
	oracleABI = mustABI(oracleABIJSON)
	liquidatorABI = mustABI(liquidatorABIJSON)
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse ABI: " + err.Error())
	}
	return parsed
}

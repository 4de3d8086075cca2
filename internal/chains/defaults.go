package chains

const pingPub = "https://ping.pub"

// defaultChains are the LCD endpoints the bot shipped with. Entries come from
// the cosmos chain-registry.
var defaultChains = []Chain{
	{ID: "dig", QueryEndpoint: "https://api-1-dig.notional.ventures/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/dig/gov"},
	{ID: "juno", QueryEndpoint: "https://lcd-juno.itastakers.com/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/juno/gov"},
	{ID: "huahua", QueryEndpoint: "https://api.chihuahua.wtf/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/chihuahua/gov"},
	{ID: "osmo", QueryEndpoint: "https://lcd-osmosis.blockapsis.com/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/osmosis/gov"},
	{ID: "atom", QueryEndpoint: "https://lcd-cosmoshub.blockapsis.com/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/cosmos/gov"},
	{ID: "akt", QueryEndpoint: "https://akash.api.ping.pub/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/akash-network/gov"},
	{ID: "stars", QueryEndpoint: "https://rest.stargaze-apis.com/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/stargaze/gov"},
	{ID: "kava", QueryEndpoint: "https://api.data.kava.io/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/kava/gov"},
	{ID: "like", QueryEndpoint: "https://mainnet-node.like.co/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/likecoin/gov"},
	{ID: "xprt", QueryEndpoint: "https://rest.core.persistence.one/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/persistence/gov"},
	{ID: "cmdx", QueryEndpoint: "https://rest.comdex.one/cosmos/gov/v1beta1/proposals", DisplayEndpoint: pingPub + "/comdex/gov"},
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := NewRegistry(defaultChains...)
	if err != nil {
		panic("chains: invalid built-in registry: " + err.Error())
	}
	return r
}

package profiles

var azReadOnlyActions = []string{
	"vm list", "vm show", "vm list-ip-addresses",
	"group list", "group show", "group exists",
	"storage account", "storage blob",
	"network vnet", "network nsg",
	"ad user", "ad group",
	"role assignment",
	"monitor metrics",
	"aks list", "aks show", "aks get-credentials",
	"webapp list", "webapp show",
}

func init() {
	p := newActionSetProfile("az", []string{"--output", "json"}, azReadOnlyActions)
	register(p)
}

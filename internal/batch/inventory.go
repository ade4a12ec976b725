package batch

import "fmt"

const (
	posPerStore = 5
	posVLAN     = 100
	apVLAN      = 200
)

// GenerateInventory builds the endpoint set for storeCount stores: five POS
// terminals and one access point per store, numbered the way the fleet
// inventory names them.
func GenerateInventory(storeCount int) []Endpoint {
	endpoints := make([]Endpoint, 0, storeCount*(posPerStore+1))
	for store := 1; store <= storeCount; store++ {
		for pos := 1; pos <= posPerStore; pos++ {
			endpoints = append(endpoints, Endpoint{
				ID:      fmt.Sprintf("POS-%04d-%02d", store, pos),
				Type:    TypePOSTerminal,
				StoreID: store,
				VLAN:    posVLAN,
			})
		}
		endpoints = append(endpoints, Endpoint{
			ID:      fmt.Sprintf("AP-%04d-01", store),
			Type:    TypeAccessPoint,
			StoreID: store,
			VLAN:    apVLAN,
		})
	}
	return endpoints
}

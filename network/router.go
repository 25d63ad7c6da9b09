package network

import (
	"github.com/helix-labs/helix/node"
)

// Router wires the gateway's two surfaces, JSON-RPC and the websocket
// block feed, to one node.
type Router struct {
	rpc *Handler
	ws  *WebSocketManager
}

func NewRouter(n *node.Node, jwtSecret string) *Router {
	return &Router{
		rpc: NewHandler(n, jwtSecret),
		ws:  NewWebSocketManager(n),
	}
}

// Start attaches the block feed to the node. Call after node.Start.
func (router *Router) Start() {
	router.ws.Start()
}

// Stop closes feed connections. Call before node.Stop.
func (router *Router) Stop() {
	router.ws.Stop()
}

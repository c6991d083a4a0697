package aggregate

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Network builds the account/device/IP graph of a fraud dataset. Each
// transaction links account↔device and device↔ip. A node's score is the max
// over its transactions and an edge's weight is the sum. Nodes and edges are
// capped in insertion order unless opts.RankByScore is set, in which case the
// highest scoring nodes and heaviest edges are kept. Empty identifiers add no
// node.
func Network(entities []domain.ScoredEntity, opts domain.GraphOptions) domain.NetworkGraph {
	nodeIndex := make(map[string]int)
	edgeIndex := make(map[string]int)
	nodes := make([]domain.GraphNode, 0)
	edges := make([]domain.GraphEdge, 0)

	touch := func(kind, label string, e domain.ScoredEntity) string {
		if label == "" {
			return ""
		}
		id := kind + "_" + label
		i, ok := nodeIndex[id]
		if !ok {
			i = len(nodes)
			nodeIndex[id] = i
			nodes = append(nodes, domain.GraphNode{ID: id, Type: kind, Label: label, RiskLevel: domain.RiskLow})
		}
		n := &nodes[i]
		n.TransactionCount++
		n.TotalAmount += e.Features.Float(domain.ColAmount)
		if e.PrimaryScore > n.FraudScore {
			n.FraudScore = e.PrimaryScore
		}
		return id
	}

	link := func(source, target string, score float64) {
		if source == "" || target == "" {
			return
		}
		key := source + "-" + target
		i, ok := edgeIndex[key]
		if !ok {
			i = len(edges)
			edgeIndex[key] = i
			edges = append(edges, domain.GraphEdge{Source: source, Target: target})
		}
		edges[i].TransactionCount++
		edges[i].Weight += score
	}

	for _, e := range entities {
		account := touch(domain.NodeAccount, e.Features.String(domain.ColAccountID), e)
		device := touch(domain.NodeDevice, e.Features.String(domain.ColDeviceID), e)
		ip := touch(domain.NodeIP, e.Features.String(domain.ColIPAddress), e)
		link(account, device, e.PrimaryScore)
		link(device, ip, e.PrimaryScore)
	}

	for i := range nodes {
		nodes[i].RiskLevel = scoring.SharedLevel(nodes[i].FraudScore)
	}

	if opts.RankByScore {
		sort.SliceStable(nodes, func(a, b int) bool { return nodes[a].FraudScore > nodes[b].FraudScore })
		sort.SliceStable(edges, func(a, b int) bool { return edges[a].Weight > edges[b].Weight })
	}

	g := domain.NetworkGraph{
		Nodes:      nodes,
		Edges:      edges,
		TotalNodes: len(nodes),
		TotalEdges: len(edges),
	}
	if opts.MaxNodes > 0 && len(g.Nodes) > opts.MaxNodes {
		g.Nodes = g.Nodes[:opts.MaxNodes]
		g.Truncated = true
	}
	if opts.MaxEdges > 0 && len(g.Edges) > opts.MaxEdges {
		g.Edges = g.Edges[:opts.MaxEdges]
		g.Truncated = true
	}
	return g
}

package graph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Subgraph is the neighbourhood returned by a bounded traversal.
type Subgraph struct {
	// Nodes in discovery order. The start node is always first.
	Nodes []*TwinNode `json:"nodes"`

	// Edges in discovery order.
	Edges []*Link `json:"edges"`
}

// Link is an edge together with the DTMIs of its endpoints.
type Link struct {
	*RelationshipEdge
	SourceDTMI string `json:"source_dtmi"`
	TargetDTMI string `json:"target_dtmi"`
}

// Stats returns a summary of subgraph size.
func (g *Subgraph) Stats() map[string]int {
	return map[string]int{
		"nodes":         len(g.Nodes),
		"relationships": len(g.Edges),
	}
}

// Subgraph walks breadth-first from startDTMI for at most maxHops hops.
//
// Every node is visited once, at the depth it was first reached. Edges are
// collected only while expanding a node whose depth is below maxHops, so
// maxHops == 0 yields the start node alone. When directed is false, incoming
// edges are walked as well, towards whichever endpoint is not the current
// node. An edge is kept once examined even if its far end was already seen.
func (s *Service) Subgraph(ctx context.Context, startDTMI string, maxHops int, directed bool) (result *Subgraph, err error) {
	if maxHops < 0 {
		return nil, fmt.Errorf("max hops %d must be non-negative: %w", maxHops, ErrInvalidArgument)
	}

	ctx, span := tracer.Start(ctx, "graph.Subgraph")
	defer span.End()
	start := time.Now()
	defer func() {
		recordTraversal(ctx, directed, err == nil, time.Since(start))
	}()

	root, err := s.requireTwin(ctx, startDTMI)
	if err != nil {
		return nil, err
	}

	type queueItem struct {
		nodeID int64
		depth  int
	}

	visited := map[int64]*TwinNode{root.ID: root}
	nodes := []*TwinNode{root}
	seenEdges := make(map[int64]bool)
	var edges []*RelationshipEdge

	queue := []queueItem{{nodeID: root.ID, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxHops {
			continue
		}

		walk, err := s.store.OutgoingRelationships(ctx, current.nodeID)
		if err != nil {
			return nil, fmt.Errorf("outgoing relationships of %d: %w", current.nodeID, err)
		}
		if !directed {
			incoming, err := s.store.IncomingRelationships(ctx, current.nodeID)
			if err != nil {
				return nil, fmt.Errorf("incoming relationships of %d: %w", current.nodeID, err)
			}
			walk = append(walk, incoming...)
		}

		for _, edge := range walk {
			if !seenEdges[edge.ID] {
				seenEdges[edge.ID] = true
				edges = append(edges, edge)
			}

			neighborID := edge.TargetID
			if !directed && edge.TargetID == current.nodeID {
				neighborID = edge.SourceID
			}
			if _, ok := visited[neighborID]; ok {
				continue
			}

			neighbor, err := s.store.GetTwin(ctx, neighborID)
			if err != nil {
				return nil, fmt.Errorf("loading twin %d: %w", neighborID, err)
			}
			if neighbor == nil {
				continue
			}
			visited[neighborID] = neighbor
			nodes = append(nodes, neighbor)
			queue = append(queue, queueItem{nodeID: neighborID, depth: current.depth + 1})
		}
	}

	result = &Subgraph{Nodes: nodes, Edges: make([]*Link, 0, len(edges))}
	for _, edge := range edges {
		// Both endpoints of a collected edge are visited: the near one was
		// being expanded and the far one was added while examining the edge.
		result.Edges = append(result.Edges, &Link{
			RelationshipEdge: edge,
			SourceDTMI:       dtmiOf(visited[edge.SourceID]),
			TargetDTMI:       dtmiOf(visited[edge.TargetID]),
		})
	}

	span.SetAttributes(
		attribute.String("graph.start", startDTMI),
		attribute.Int("graph.max_hops", maxHops),
		attribute.Int("graph.nodes", len(result.Nodes)),
		attribute.Int("graph.edges", len(result.Edges)),
	)
	return result, nil
}

func dtmiOf(node *TwinNode) string {
	if node == nil {
		return ""
	}
	return node.DTMI
}

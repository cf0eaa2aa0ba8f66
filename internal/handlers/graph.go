package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"introspect/internal/middleware"
	"introspect/internal/models"
	"introspect/internal/services"
)

// GraphHandler exposes read access to the knowledge graph.
type GraphHandler struct {
	graph *services.GraphService
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(graph *services.GraphService) *GraphHandler {
	return &GraphHandler{graph: graph}
}

// Full handles GET /api/graph
func (h *GraphHandler) Full(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	subgraph, err := h.graph.FullGraph(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load graph",
		})
	}
	return c.JSON(subgraph)
}

// Stats handles GET /api/graph/stats
func (h *GraphHandler) Stats(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	nodes, edges, err := h.graph.Stats(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load graph stats",
		})
	}
	return c.JSON(fiber.Map{"node_count": nodes, "edge_count": edges})
}

// Nodes handles GET /api/graph/nodes?type=Belief&min_mentions=2
func (h *GraphHandler) Nodes(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	nodeType := c.Query("type")
	if !models.IsValidNodeType(nodeType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown node type",
			"types": models.NodeTypes,
		})
	}

	minMentions, _ := strconv.Atoi(c.Query("min_mentions", "0"))

	nodes, err := h.graph.NodesByType(c.Context(), userID, nodeType, minMentions)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load nodes",
		})
	}
	return c.JSON(fiber.Map{"nodes": nodes})
}

// Neighborhood handles GET /api/graph/neighborhood?node_id=...&hops=2
func (h *GraphHandler) Neighborhood(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	nodeID, err := primitive.ObjectIDFromHex(c.Query("node_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "node_id must be a valid node ID",
		})
	}

	hops, _ := strconv.Atoi(c.Query("hops", "1"))
	if hops < 1 {
		hops = 1
	}
	if hops > 3 {
		hops = 3 // deeper walks blow up on dense graphs
	}

	subgraph, err := h.graph.Neighborhood(c.Context(), userID, []primitive.ObjectID{nodeID}, hops)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load neighborhood",
		})
	}
	return c.JSON(subgraph)
}

// Contradictions handles GET /api/graph/contradictions
func (h *GraphHandler) Contradictions(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	pairs, err := h.graph.ContradictionPairs(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load contradictions",
		})
	}

	type pair struct {
		A models.GraphNode `json:"a"`
		B models.GraphNode `json:"b"`
	}
	result := make([]pair, len(pairs))
	for i, p := range pairs {
		result[i] = pair{A: p[0], B: p[1]}
	}
	return c.JSON(fiber.Map{"contradictions": result})
}

package service

import "github.com/bitfantasy/nimo-scm/internal/scm/entity"

// nodesOf 返回链内分配给 userID 且角色为 role 的节点
func nodesOf(chain *entity.SupplyChain, userID string, role entity.NodeRole) []entity.GraphNode {
	var nodes []entity.GraphNode
	for _, n := range chain.Nodes {
		if n.Role == role && n.AssignedTo(userID) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// usersWithRole 按节点顺序返回承担该角色的用户（去重）
func usersWithRole(chain *entity.SupplyChain, role entity.NodeRole) []string {
	var users []string
	seen := make(map[string]bool)
	for _, n := range chain.Nodes {
		if n.Role != role || n.AssignedUserID == nil || seen[*n.AssignedUserID] {
			continue
		}
		seen[*n.AssignedUserID] = true
		users = append(users, *n.AssignedUserID)
	}
	return users
}

func findNode(chain *entity.SupplyChain, nodeID string) *entity.GraphNode {
	for i := range chain.Nodes {
		if chain.Nodes[i].ID == nodeID {
			return &chain.Nodes[i]
		}
	}
	return nil
}

// hasFlow 判断是否存在从 from 节点到 to 节点的有向路径，中间只允许经过 QA/仓库/未分配节点
func hasFlow(chain *entity.SupplyChain, fromUser string, fromRole entity.NodeRole, toUser string, toRole entity.NodeRole) bool {
	adj := make(map[string][]string)
	for _, e := range chain.Edges {
		adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
	}

	visited := make(map[string]bool)
	var queue []string
	for _, n := range nodesOf(chain, fromUser, fromRole) {
		visited[n.ID] = true
		queue = append(queue, n.ID)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			node := findNode(chain, next)
			if node == nil {
				continue
			}
			if node.Role == toRole && node.AssignedTo(toUser) {
				return true
			}
			if node.Role.IsIntermediary() {
				queue = append(queue, next)
			}
		}
	}
	return false
}

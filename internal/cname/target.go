package cname

import (
	"context"
	"fmt"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/domainerr"
)

// selectTarget implements spec.md §4.J step 4's target-selection decision
// tree using the topology snapshot component C maintains in the store.
// Returns the ingress service URL, its target type, and (for container
// targets) the container name / network for the CNAME row.
func (l *Lifecycle) selectTarget(ctx context.Context, targetPort int) (target, targetType string, containerName, dockerNetwork *string, warning string, err error) {
	container, lookupErr := l.store.FindContainerByListeningPort(ctx, targetPort, "tcp")
	if lookupErr != nil {
		// Docker inventory unavailable: fall back to host assumption.
		return fmt.Sprintf("http://localhost:%d", targetPort), constants.TargetTypeLocalhost, nil, nil, "docker inventory unavailable, assuming host service", nil
	}
	if container == nil {
		return fmt.Sprintf("http://localhost:%d", targetPort), constants.TargetTypeLocalhost, nil, nil, "", nil
	}

	cloudflared, cfErr := l.store.FindContainerByNameOrImageLike(ctx, "cloudflared")
	if cfErr != nil {
		return "", "", nil, nil, "", cfErr
	}

	if cloudflared != nil {
		shared, sharedErr := l.store.SharedNetworks(ctx, container.ID, cloudflared.ID)
		if sharedErr != nil {
			return "", "", nil, nil, "", sharedErr
		}
		if len(shared) > 0 {
			name := container.Name
			network := shared[0]
			return fmt.Sprintf("http://%s:%d", container.Name, targetPort), constants.TargetTypeContainer, &name, &network, "", nil
		}
	}

	hostPort, hpErr := l.store.FindContainerHostPort(ctx, container.ID, targetPort)
	if hpErr != nil {
		return "", "", nil, nil, "", hpErr
	}
	if hostPort != nil {
		reachable, reachErr := l.reach.IsReachable(ctx, "", "", "localhost", *hostPort)
		if reachErr == nil && reachable {
			return fmt.Sprintf("http://localhost:%d", *hostPort), constants.TargetTypeLocalhost, nil, nil,
				"cloudflared is not on a shared network with this container; routing via its host-port binding instead", nil
		}
	}

	network := ""
	if cloudflared != nil {
		network = cloudflared.Name
	}
	return "", "", nil, nil, "", domainerr.NewWithRecommendation(
		domainerr.KindConnectivity,
		fmt.Sprintf("container %s is not reachable from the tunnel", container.Name),
		fmt.Sprintf("Add cloudflared to %s's network OR expose port with -p %d:%d", containerLabel(network, container.Name), targetPort, targetPort),
		nil,
	)
}

func containerLabel(network, containerName string) string {
	if network != "" {
		return network
	}
	return containerName
}

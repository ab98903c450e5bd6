package main

import (
	"context"
	"errors"

	"playlist-sync/internal/playlist"
	"playlist-sync/internal/syncer"

	"github.com/urfave/cli/v3"
)

func (r *Runner) register() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "watch",
			Usage:  "Follow the room and print the order whenever it changes",
			Action: r.Watch,
		},
		{
			Name:   "show",
			Usage:  "Print the current order of the room",
			Action: r.Show,
		},
		{
			Name:      "add",
			Usage:     "Insert tracks by catalog id",
			ArgsUsage: "<track-id>...",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "style",
					Usage: "Where to insert: now, next or last",
					Value: "last",
				},
			},
			Action: r.Add,
		},
		{
			Name:      "remove",
			Aliases:   []string{"rm"},
			Usage:     "Delete a slot",
			ArgsUsage: "<slot>",
			Action:    r.Remove,
		},
		{
			Name:      "move",
			Usage:     "Move a slot after another one, or to the top",
			ArgsUsage: "<slot>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "after",
					Usage: "Slot to move behind; empty moves to the top",
				},
			},
			Action: r.Move,
		},
		{
			Name:      "replace",
			Usage:     "Replace the whole order with the given tracks",
			ArgsUsage: "<track-id>...",
			Action:    r.Replace,
		},
	}
}

func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	onChange := func(s syncer.State) {
		r.logger.Info("room changed", "slots", s.Playlist.Len(), "current", s.Current, "playing", s.Playing)
		if err := r.printOrder(s.Playlist, s.Current); err != nil {
			r.logger.Warnf("client: %v", err)
		}
	}
	return r.session(ctx, onChange, func(ctx context.Context, c *syncer.Coordinator) error {
		<-ctx.Done()
		return nil
	})
}

func (r *Runner) Show(ctx context.Context, cmd *cli.Command) error {
	return r.session(ctx, nil, func(ctx context.Context, c *syncer.Coordinator) error {
		c.Wait()
		st := c.State()
		return r.printOrder(st.Playlist, st.Current)
	})
}

func (r *Runner) Add(ctx context.Context, cmd *cli.Command) error {
	style, err := syncer.ParseStyle(cmd.String("style"))
	if err != nil {
		return err
	}
	ids, err := parseIDs(cmd.Args().Slice())
	if err != nil {
		return err
	}
	tracks, err := r.resolve(ctx, ids)
	if err != nil {
		return err
	}
	return r.session(ctx, nil, func(ctx context.Context, c *syncer.Coordinator) error {
		slots, err := c.InsertTracks(ctx, tracks, style)
		if err != nil {
			return err
		}
		r.logger.Info("added", "slots", slots, "style", style)
		return r.printOrder(c.State().Playlist, c.State().Current)
	})
}

func (r *Runner) Remove(ctx context.Context, cmd *cli.Command) error {
	slot := playlist.OrderHash(cmd.Args().First())
	if slot == "" {
		return errors.New("slot is required")
	}
	return r.session(ctx, nil, func(ctx context.Context, c *syncer.Coordinator) error {
		if err := c.DeleteTrack(ctx, slot); err != nil {
			return err
		}
		return r.printOrder(c.State().Playlist, c.State().Current)
	})
}

func (r *Runner) Move(ctx context.Context, cmd *cli.Command) error {
	slot := playlist.OrderHash(cmd.Args().First())
	if slot == "" {
		return errors.New("slot is required")
	}
	after := playlist.OrderHash(cmd.String("after"))
	return r.session(ctx, nil, func(ctx context.Context, c *syncer.Coordinator) error {
		if err := c.MoveTrack(ctx, slot, after); err != nil {
			return err
		}
		return r.printOrder(c.State().Playlist, c.State().Current)
	})
}

func (r *Runner) Replace(ctx context.Context, cmd *cli.Command) error {
	ids, err := parseIDs(cmd.Args().Slice())
	if err != nil {
		return err
	}
	tracks, err := r.resolve(ctx, ids)
	if err != nil {
		return err
	}
	return r.session(ctx, nil, func(ctx context.Context, c *syncer.Coordinator) error {
		if _, err := c.ReplaceAll(ctx, tracks); err != nil {
			return err
		}
		return r.printOrder(c.State().Playlist, c.State().Current)
	})
}

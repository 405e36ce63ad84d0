package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/voltakids/boltsync/internal/service"
)

var couponCmd = &cobra.Command{
	Use:   "coupon",
	Short: "Manage reward coupons",
}

var (
	couponProfile  string
	couponCost     int
	couponCategory string
)

var couponAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a reward coupon for a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		backend, err := newBackend()
		if err != nil {
			return err
		}
		oracle := newOracle()
		profiles := service.NewProfiles(st, backend, oracle,
			log.New(os.Stderr, "[profiles] ", log.LstdFlags))
		coupons := service.NewCoupons(st, backend, oracle, profiles,
			log.New(os.Stderr, "[coupons] ", log.LstdFlags))

		coupon, err := coupons.CreateCoupon(cmd.Context(), service.CreateCouponInput{
			ProfileID: couponProfile,
			Title:     args[0],
			BoltCost:  couponCost,
			Category:  couponCategory,
		})
		if err != nil {
			return fmt.Errorf("failed to create coupon: %w", err)
		}

		fmt.Printf("Created coupon %s (%s, %d bolts, %s)\n",
			coupon.ID, coupon.Title, coupon.BoltCost, coupon.SyncStatus)
		return nil
	},
}

var couponListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a profile's coupons",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		coupons, err := st.ListCoupons(cmd.Context(), couponProfile)
		if err != nil {
			return fmt.Errorf("failed to list coupons: %w", err)
		}
		if len(coupons) == 0 {
			fmt.Println("No coupons")
			return nil
		}

		for _, c := range coupons {
			state := "available"
			if c.IsRedeemed {
				state = "redeemed"
			}
			fmt.Printf("%s  %-24s %4d bolts  %-10s %-9s %s\n",
				c.ID, c.Title, c.BoltCost, c.Category, state, c.SyncStatus)
		}
		return nil
	},
}

func init() {
	couponAddCmd.Flags().StringVar(&couponProfile, "profile", "", "profile ID the coupon belongs to")
	couponAddCmd.Flags().IntVar(&couponCost, "cost", 10, "bolt cost to redeem")
	couponAddCmd.Flags().StringVar(&couponCategory, "category", "Privilege", "coupon category (Physical, Privilege, Activity)")
	couponAddCmd.MarkFlagRequired("profile")

	couponListCmd.Flags().StringVar(&couponProfile, "profile", "", "profile ID to list coupons for")
	couponListCmd.MarkFlagRequired("profile")

	couponCmd.AddCommand(couponAddCmd)
	couponCmd.AddCommand(couponListCmd)
	rootCmd.AddCommand(couponCmd)
}
